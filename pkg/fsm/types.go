package fsm

import (
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/lifecycle"
	"github.com/nightshift/droplet-scheduler/pkg/schedule"
)

// ReconcileRequest is the FSM input
type ReconcileRequest struct {
	RunID     string
	StartedAt time.Time
}

// ReconcileResponse is the FSM output (accumulated across transitions)
type ReconcileResponse struct {
	// From Observe
	DropletIDs     []int
	SnapshotCount  int
	LatestSnapshot *digitalocean.Snapshot

	// From Decide
	Hour      int
	ShouldRun bool
	Decision  schedule.Decision

	// From Apply
	RestoredDropletID int

	// From Complete
	Status string
}

// State names
const (
	StateObserve  = "observe"
	StateDecide   = "decide"
	StateApply    = "apply"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// Result summarizes one reconcile invocation.
type Result struct {
	RunID             string            `json:"run_id"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
	Hour              int               `json:"utc_hour"`
	ShouldRun         bool              `json:"should_run"`
	DropletIDs        []int             `json:"droplet_ids"`
	SnapshotCount     int               `json:"snapshot_count"`
	LatestSnapshotID  string            `json:"latest_snapshot_id,omitempty"`
	Decision          schedule.Decision `json:"decision"`
	RestoredDropletID int               `json:"restored_droplet_id,omitempty"`
	Status            string            `json:"status"`
	Error             string            `json:"error,omitempty"`
	Events            []lifecycle.Event `json:"events"`
	ReportKey         string            `json:"-"`
}

// TriggerResponse is the body returned to whatever invoked a reconcile.
type TriggerResponse struct {
	StatusCode int            `json:"statusCode"`
	Body       map[string]any `json:"body"`
}

// OK is the response to a successful invocation.
func OK() TriggerResponse {
	return TriggerResponse{StatusCode: 200, Body: map[string]any{}}
}
