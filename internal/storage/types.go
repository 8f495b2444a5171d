package storage

import (
	"context"
	"time"

	"meshmate/internal/schedule"
)

// Snapshot is the full schedule collection keyed by owner id.
// Each list is in creation order and includes inactive schedules.
type Snapshot map[string][]*schedule.Schedule

// Store reads and writes whole snapshots.
//
// Load on a backend with no data yet returns an empty snapshot and a nil error.
// Unreadable data returns an empty snapshot and an error wrapping
// schedule.ErrPersistence; callers may carry on with the empty state.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DefaultPath is used when Config.Path is empty.
const DefaultPath = "./data/schedules.json"
