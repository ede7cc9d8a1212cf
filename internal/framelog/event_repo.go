package framelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventRecord is a notable non-frame occurrence: a hardware fault, a
// rejected settings write, a failed radio operation.
type EventRecord struct {
	ID        int64
	Kind      string
	Detail    string
	CreatedAt time.Time
}

type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Insert(ctx context.Context, e EventRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO events(kind, detail, created_at)
		VALUES(?, ?, ?)
	`, e.Kind, e.Detail, timeToUnixMillis(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit of the newest events in chronological order,
// oldest first.
func (r *EventRepo) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, detail, created_at
		FROM events
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = unixMillisToTime(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent events: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PurgeBefore deletes events recorded before cutoff and reports how many
// rows were removed.
func (r *EventRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, timeToUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count purged events: %w", err)
	}
	return n, nil
}
