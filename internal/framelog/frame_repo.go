package framelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// FrameRecord is one frame as it crossed the radio, in either direction.
// Protocol, Src, Dst and Seq stay zero when the payload carried no
// parseable link-layer header.
type FrameRecord struct {
	ID        int64
	Direction string
	Protocol  string
	Src       uint16
	Dst       uint16
	Seq       uint16
	Payload   []byte
	Rssi      int
	Snr       float64
	CreatedAt time.Time
}

type FrameRepo struct {
	db *sql.DB
}

func NewFrameRepo(db *sql.DB) *FrameRepo {
	return &FrameRepo{db: db}
}

func (r *FrameRepo) Insert(ctx context.Context, f FrameRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO frames(direction, protocol, src, dst, seq, payload, rssi, snr, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.Direction, f.Protocol, int(f.Src), int(f.Dst), int(f.Seq), f.Payload, f.Rssi, f.Snr, timeToUnixMillis(f.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert frame: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get frame id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit of the newest frames in chronological order,
// oldest first.
func (r *FrameRepo) Recent(ctx context.Context, limit int) ([]FrameRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, direction, protocol, src, dst, seq, payload, rssi, snr, created_at
		FROM frames
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent frames: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []FrameRecord
	for rows.Next() {
		var f FrameRecord
		var src, dst, seq int
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.Direction, &f.Protocol, &src, &dst, &seq, &f.Payload, &f.Rssi, &f.Snr, &createdAt); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.Src = uint16(src)
		f.Dst = uint16(dst)
		f.Seq = uint16(seq)
		f.CreatedAt = unixMillisToTime(createdAt)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent frames: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PurgeBefore deletes frames recorded before cutoff and reports how many
// rows were removed.
func (r *FrameRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM frames WHERE created_at < ?`, timeToUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge frames: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count purged frames: %w", err)
	}
	return n, nil
}

func timeToUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func unixMillisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
