package framelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenMigratesOnce(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "frames.db")

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	db, err = Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read user_version after reopen: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d after reopen, got %d", len(migrations), version)
	}
}

func TestClearEmptiesTables(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "frames.db")

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	frames := NewFrameRepo(db)
	eventsRepo := NewEventRepo(db)

	now := time.Now()
	if _, err := frames.Insert(ctx, FrameRecord{Direction: DirectionIn, Payload: []byte{0x01}, CreatedAt: now}); err != nil {
		t.Fatalf("insert frame: %v", err)
	}
	if _, err := eventsRepo.Insert(ctx, EventRecord{Kind: "hw_fault", Detail: "test", CreatedAt: now}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	if err := Clear(ctx, db); err != nil {
		t.Fatalf("clear: %v", err)
	}

	gotFrames, err := frames.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	if len(gotFrames) != 0 {
		t.Fatalf("expected no frames after clear, got %d", len(gotFrames))
	}

	gotEvents, err := eventsRepo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(gotEvents) != 0 {
		t.Fatalf("expected no events after clear, got %d", len(gotEvents))
	}
}
