package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/nightshift/droplet-scheduler/pkg/lifecycle"
	"github.com/nightshift/droplet-scheduler/pkg/schedule"
	"github.com/superfly/fsm"
	"golang.org/x/sync/errgroup"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	api              lifecycle.API
	clock            lifecycle.Clock
	window           schedule.Window
	imageNamespace   string
	dropletNamespace string
	template         lifecycle.Template
	timings          lifecycle.Timings
	maxRetries       int

	mu   sync.Mutex
	runs map[string]*runState
}

// runState is what a run leaves behind outside the FSM store: the latest
// response and the lifecycle events recorded while applying.
type runState struct {
	resp   ReconcileResponse
	events *lifecycle.EventLog
}

// MachineConfig carries the dependencies of a Machine.
type MachineConfig struct {
	API              lifecycle.API
	Clock            lifecycle.Clock
	Window           schedule.Window
	ImageNamespace   string
	DropletNamespace string
	Template         lifecycle.Template
	Timings          lifecycle.Timings
	MaxRetries       int
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(cfg MachineConfig) *Machine {
	clock := cfg.Clock
	if clock == nil {
		clock = lifecycle.RealClock()
	}
	return &Machine{
		api:              cfg.API,
		clock:            clock,
		window:           cfg.Window,
		imageNamespace:   cfg.ImageNamespace,
		dropletNamespace: cfg.DropletNamespace,
		template:         cfg.Template,
		timings:          cfg.Timings,
		maxRetries:       cfg.MaxRetries,
		runs:             map[string]*runState{},
	}
}

func (m *Machine) state(runID string) *runState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.runs[runID]
	if !ok {
		s = &runState{events: &lifecycle.EventLog{}}
		m.runs[runID] = s
	}
	return s
}

func (m *Machine) track(runID string, resp *ReconcileResponse) {
	s := m.state(runID)
	m.mu.Lock()
	defer m.mu.Unlock()
	s.resp = *resp
}

// release returns and forgets everything kept for runID.
func (m *Machine) release(runID string) (ReconcileResponse, []lifecycle.Event) {
	m.mu.Lock()
	s, ok := m.runs[runID]
	delete(m.runs, runID)
	m.mu.Unlock()
	if !ok {
		return ReconcileResponse{}, nil
	}
	return s.resp, s.events.Events()
}

// handleObserve lists snapshots and managed droplets. Both reads are side
// effect free, so failures are retried.
func (m *Machine) handleObserve(ctx context.Context, req *fsm.Request[ReconcileRequest, ReconcileResponse]) (*fsm.Response[ReconcileResponse], error) {
	retry := fsm.RetryFromContext(ctx)
	slog.Info("fsm_state_observe", "invocation_id", req.Msg.RunID, "retry", retry)

	resp := req.W.Msg
	if resp == nil {
		resp = &ReconcileResponse{}
	}

	var snapshots []digitalocean.Snapshot
	var droplets []digitalocean.Droplet

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshots, err = m.api.ListSnapshots(gctx)
		return errors.Wrap(err, "list snapshots")
	})
	g.Go(func() error {
		var err error
		droplets, err = m.api.ListDropletsByTag(gctx, m.dropletNamespace)
		return errors.Wrap(err, "list droplets")
	})
	if err := g.Wait(); err != nil {
		if retry >= uint64(m.maxRetries) {
			slog.Error("max_retries_exceeded", "invocation_id", req.Msg.RunID, "max_retries", m.maxRetries, "error", err)
			return nil, fsm.Abort(fmt.Errorf("observe failed after %d retries: %w", retry, err))
		}
		slog.Warn("observe_failed_retrying", "invocation_id", req.Msg.RunID, "retry", retry, "error", err)
		return nil, err
	}

	resp.DropletIDs = resp.DropletIDs[:0]
	for _, d := range droplets {
		resp.DropletIDs = append(resp.DropletIDs, d.ID)
	}
	resp.SnapshotCount = len(snapshots)
	resp.LatestSnapshot = lifecycle.LatestSnapshot(snapshots)

	slog.Info("observed",
		"invocation_id", req.Msg.RunID,
		"droplet_count", len(resp.DropletIDs),
		"snapshot_count", resp.SnapshotCount,
	)

	m.track(req.Msg.RunID, resp)
	return fsm.NewResponse(resp), nil
}

// handleDecide compares the schedule with the observed droplets.
func (m *Machine) handleDecide(ctx context.Context, req *fsm.Request[ReconcileRequest, ReconcileResponse]) (*fsm.Response[ReconcileResponse], error) {
	slog.Info("fsm_state_decide", "invocation_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	now := req.Msg.StartedAt.UTC()
	resp.Hour = now.Hour()
	resp.ShouldRun = m.window.ShouldRun(now)
	resp.Decision = schedule.Decide(resp.ShouldRun, len(resp.DropletIDs))

	slog.Info("decision",
		"invocation_id", req.Msg.RunID,
		"utc_hour", resp.Hour,
		"should_run", resp.ShouldRun,
		"is_running", len(resp.DropletIDs) > 0,
		"decision", resp.Decision,
	)

	m.track(req.Msg.RunID, resp)
	return fsm.NewResponse(resp), nil
}

// handleApply runs the machine the decision calls for. Its effects are not
// retried here: every error aborts and the next invocation re-observes. A
// panic aborts too, so mutations already issued are never repeated.
func (m *Machine) handleApply(ctx context.Context, req *fsm.Request[ReconcileRequest, ReconcileResponse]) (out *fsm.Response[ReconcileResponse], err error) {
	slog.Info("fsm_state_apply", "invocation_id", req.Msg.RunID)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fsm_apply_panic", "invocation_id", req.Msg.RunID, "panic", r)
			out, err = nil, fsm.Abort(fmt.Errorf("apply panicked: %v", r))
		}
	}()

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	events := m.state(req.Msg.RunID).events

	switch resp.Decision {
	case schedule.DecisionShutdown:
		// Siblings are not cancelled when one droplet fails.
		var g errgroup.Group
		for _, id := range resp.DropletIDs {
			machine := lifecycle.NewShutdownMachine(m.api, m.clock, m.imageNamespace, m.timings, events)
			g.Go(func() error {
				return recovered(func() error { return machine.Run(ctx, id) })
			})
		}
		if err := g.Wait(); err != nil {
			slog.Error("shutdown_failed", "invocation_id", req.Msg.RunID, "error", err)
			return nil, fsm.Abort(errors.Wrap(err, "shutdown"))
		}

	case schedule.DecisionRestore:
		machine := lifecycle.NewRestoreMachine(m.api, m.clock, m.template, events)
		droplet, err := machine.Restore(ctx, resp.LatestSnapshot)
		if err != nil {
			slog.Error("restore_failed", "invocation_id", req.Msg.RunID, "error", err)
			return nil, fsm.Abort(errors.Wrap(err, "restore"))
		}
		resp.RestoredDropletID = droplet.ID

	default:
		slog.Info("nothing_to_do", "invocation_id", req.Msg.RunID)
	}

	m.track(req.Msg.RunID, resp)
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the run as succeeded.
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[ReconcileRequest, ReconcileResponse]) (*fsm.Response[ReconcileResponse], error) {
	slog.Info("fsm_state_complete", "invocation_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	resp.Status = StatusSucceeded

	m.track(req.Msg.RunID, resp)
	slog.Info("fsm_complete", "invocation_id", req.Msg.RunID, "decision", resp.Decision)
	return fsm.NewResponse(resp), nil
}

// recovered runs fn and turns a panic into an error. errgroup goroutines do
// not recover on their own.
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
