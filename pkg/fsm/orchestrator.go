package fsm

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/nightshift/droplet-scheduler/pkg/journal"
	"github.com/nightshift/droplet-scheduler/pkg/lifecycle"
	"github.com/nightshift/droplet-scheduler/pkg/metrics"
	"github.com/superfly/fsm"
)

// ErrRunInProgress is returned when a reconcile is already running in this process.
var ErrRunInProgress = errors.New("a reconcile run is already in progress")

// Journal records finished runs.
type Journal interface {
	RecordRun(ctx context.Context, run *journal.Run, events []journal.Event) error
}

// ReportStore archives run reports.
type ReportStore interface {
	PutReport(ctx context.Context, runID string, startedAt time.Time, body []byte) (string, error)
}

// Orchestrator runs one reconcile workflow per invocation.
type Orchestrator struct {
	machine   *Machine
	clock     lifecycle.Clock
	fsmDBPath string
	journal   Journal
	reports   ReportStore

	running sync.Mutex
}

// OrchestratorConfig configures an Orchestrator. Journal and Reports are
// optional.
type OrchestratorConfig struct {
	MachineConfig
	// FSMDBPath keeps the FSM store in a fixed directory. When empty each
	// invocation uses a temporary directory that is removed afterwards.
	FSMDBPath string
	Journal   Journal
	Reports   ReportStore
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	machine := NewMachine(cfg.MachineConfig)
	return &Orchestrator{
		machine:   machine,
		clock:     machine.clock,
		fsmDBPath: cfg.FSMDBPath,
		journal:   cfg.Journal,
		reports:   cfg.Reports,
	}
}

// Reconcile performs one invocation. The returned Result is populated as far
// as the run got, including when an error is returned.
func (o *Orchestrator) Reconcile(ctx context.Context) (*Result, error) {
	if !o.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.running.Unlock()

	runID := uuid.NewString()
	startedAt := o.clock.Now().UTC()
	slog.Info("reconcile_started", "invocation_id", runID, "started_at", startedAt)

	runErr := o.run(ctx, runID, startedAt)

	resp, events := o.machine.release(runID)
	result := &Result{
		RunID:             runID,
		StartedAt:         startedAt,
		FinishedAt:        o.clock.Now().UTC(),
		Hour:              resp.Hour,
		ShouldRun:         resp.ShouldRun,
		DropletIDs:        resp.DropletIDs,
		SnapshotCount:     resp.SnapshotCount,
		Decision:          resp.Decision,
		RestoredDropletID: resp.RestoredDropletID,
		Status:            StatusSucceeded,
		Events:            events,
	}
	if resp.LatestSnapshot != nil {
		result.LatestSnapshotID = resp.LatestSnapshot.ID
	}
	if runErr != nil {
		result.Status = StatusFailed
		result.Error = runErr.Error()
	}

	o.record(context.WithoutCancel(ctx), result)

	decision := string(result.Decision)
	if decision == "" {
		decision = "undecided"
	}
	metrics.InvocationsTotal.WithLabelValues(decision, result.Status).Inc()

	if runErr != nil {
		slog.Error("reconcile_failed", "invocation_id", runID, "decision", decision, "error", runErr)
		return result, runErr
	}

	metrics.LastSuccessTimestamp.Set(float64(result.FinishedAt.Unix()))
	slog.Info("reconcile_complete",
		"invocation_id", runID,
		"decision", decision,
		"event_count", len(events),
		"duration", result.FinishedAt.Sub(startedAt),
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, startedAt time.Time) error {
	dbPath := o.fsmDBPath
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "droplet-scheduler-fsm-*")
		if err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
		defer os.RemoveAll(dir)
		dbPath = dir
	} else if err := os.MkdirAll(dbPath, 0755); err != nil {
		return errors.Wrap(err, "failed to create FSM directory")
	}

	manager, err := fsm.New(fsm.Config{DBPath: dbPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	start, _, err := o.machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	req := &ReconcileRequest{RunID: runID, StartedAt: startedAt}
	version, err := start(ctx, runID, fsm.NewRequest(req, &ReconcileResponse{}))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "invocation_id", runID, "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		return errors.Wrap(err, "FSM execution failed")
	}
	return nil
}

// record writes the journal entry and the report. Both are best effort: a
// failure is logged and does not fail the run.
func (o *Orchestrator) record(ctx context.Context, result *Result) {
	if o.journal != nil {
		run := &journal.Run{
			ID:            result.RunID,
			StartedAt:     result.StartedAt,
			FinishedAt:    result.FinishedAt,
			Hour:          result.Hour,
			ShouldRun:     result.ShouldRun,
			DropletCount:  len(result.DropletIDs),
			SnapshotCount: result.SnapshotCount,
			Decision:      string(result.Decision),
			Status:        result.Status,
			ErrorMessage:  result.Error,
		}
		if run.Decision == "" {
			run.Decision = "none"
		}
		events := make([]journal.Event, len(result.Events))
		for i, e := range result.Events {
			events[i] = journal.Event{DropletID: e.DropletID, Kind: e.Kind, Detail: e.Detail, At: e.At}
		}
		if err := o.journal.RecordRun(ctx, run, events); err != nil {
			slog.Warn("journal_record_failed", "invocation_id", result.RunID, "error", err)
		}
	}

	if o.reports != nil {
		body, err := json.Marshal(result)
		if err != nil {
			slog.Warn("report_encode_failed", "invocation_id", result.RunID, "error", err)
			return
		}
		key, err := o.reports.PutReport(ctx, result.RunID, result.StartedAt, body)
		if err != nil {
			slog.Warn("report_upload_failed", "invocation_id", result.RunID, "error", err)
			return
		}
		result.ReportKey = key
	}
}
