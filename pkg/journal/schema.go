// Package journal keeps a local SQLite record of reconcile runs and the
// lifecycle events each run produced.
package journal

import "time"

// Schema creates the runs and events tables. Times are stored as RFC 3339
// text in UTC so they sort lexically.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    utc_hour INTEGER NOT NULL,
    should_run INTEGER NOT NULL,
    droplet_count INTEGER NOT NULL,
    snapshot_count INTEGER NOT NULL,
    decision TEXT NOT NULL CHECK(decision IN ('none', 'restore', 'shutdown')),
    status TEXT NOT NULL CHECK(status IN ('succeeded', 'failed')),
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    droplet_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT,
    at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
`

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one reconcile invocation.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Hour          int
	ShouldRun     bool
	DropletCount  int
	SnapshotCount int
	Decision      string
	Status        string
	ErrorMessage  string
}

// Event is a lifecycle step recorded during a run.
type Event struct {
	ID        int64
	RunID     string
	DropletID int
	Kind      string
	Detail    string
	At        time.Time
}
