package journal

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/errors"
	_ "modernc.org/sqlite"
)

// Fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository stores runs and events in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the journal at dbPath.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("journal_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("journal_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open journal")
	}
	// A single connection keeps the pragma and the schema on the same handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("journal_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("journal_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordRun stores a run and its events in one transaction.
func (r *Repository) RecordRun(ctx context.Context, run *Run, events []Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, utc_hour, should_run,
		                  droplet_count, snapshot_count, decision, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Hour, run.ShouldRun,
		run.DropletCount, run.SnapshotCount, run.Decision, run.Status, nullString(run.ErrorMessage))
	if err != nil {
		slog.Error("journal_insert_run_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	for _, e := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (run_id, droplet_id, kind, detail, at) VALUES (?, ?, ?, ?, ?)`,
			run.ID, e.DropletID, e.Kind, nullString(e.Detail), formatTime(e.At))
		if err != nil {
			slog.Error("journal_insert_event_failed", "run_id", run.ID, "kind", e.Kind, "error", err)
			return errors.Wrap(err, "failed to insert event")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit run")
	}

	slog.Info("journal_run_recorded", "run_id", run.ID, "status", run.Status, "event_count", len(events))
	return nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `
		SELECT id, started_at, finished_at, utc_hour, should_run,
		       droplet_count, snapshot_count, decision, status, error_message
		FROM runs ORDER BY started_at DESC, id
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var started, finished string
		var errorMessage sql.NullString
		if err := rows.Scan(&run.ID, &started, &finished, &run.Hour, &run.ShouldRun,
			&run.DropletCount, &run.SnapshotCount, &run.Decision, &run.Status, &errorMessage); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		run.ErrorMessage = errorMessage.String
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}

// ListEvents returns the events of a run in the order they were recorded.
func (r *Repository) ListEvents(ctx context.Context, runID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, droplet_id, kind, detail, at FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at string
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.DropletID, &e.Kind, &detail, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return events, nil
}

// Prune deletes runs (and their events) that started before cutoff.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune runs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	slog.Info("journal_pruned", "cutoff", cutoff, "runs_deleted", n)
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "bad timestamp %q", s)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
