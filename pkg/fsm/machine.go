// Package fsm implements the reconcile workflow.
// Each invocation observes the managed droplets and snapshots, decides against
// the run-hours window, and applies a shutdown or a restore, using the
// superfly/fsm library to drive the transitions.
package fsm

import (
	"context"

	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/superfly/fsm"
)

// Run statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Register registers the reconcile FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[ReconcileRequest, ReconcileResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[ReconcileRequest, ReconcileResponse](manager, "reconcile").
		Start(StateObserve, m.handleObserve).
		To(StateDecide, m.handleDecide).
		To(StateApply, m.handleApply).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
