package lifecycle

import (
	"context"
	"log/slog"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/nightshift/droplet-scheduler/pkg/metrics"
)

// Waiter polls actions until they reach a terminal status.
type Waiter struct {
	api     API
	clock   Clock
	timings Timings
}

// NewWaiter creates a Waiter using t.PollInterval and t.ActionTimeout.
func NewWaiter(api API, clock Clock, t Timings) *Waiter {
	return &Waiter{api: api, clock: clock, timings: t}
}

// Wait polls action until it leaves in-progress. Once a poll lands past
// ActionTimeout, Wait gives up and returns a copy of the action with status
// errored, whatever that poll reported. Giving up is not an error.
func (w *Waiter) Wait(ctx context.Context, action *digitalocean.Action) (*digitalocean.Action, error) {
	start := w.clock.Now()
	current := action

	for current.Status == digitalocean.ActionInProgress {
		if err := w.clock.Sleep(ctx, w.timings.PollInterval); err != nil {
			return nil, err
		}

		next, err := w.api.GetAction(ctx, action.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "poll action %d", action.ID)
		}
		current = next

		elapsed := w.clock.Now().Sub(start)
		if elapsed > w.timings.ActionTimeout {
			slog.Warn("action_wait_timeout",
				"action_id", action.ID,
				"type", action.Type,
				"elapsed", elapsed,
				"observed_status", current.Status,
			)
			current = &digitalocean.Action{ID: action.ID, Type: action.Type, Status: digitalocean.ActionErrored}
			break
		}
	}

	metrics.ActionWaitSeconds.WithLabelValues(action.Type, current.Status).
		Observe(w.clock.Now().Sub(start).Seconds())
	slog.Info("action_finished", "action_id", action.ID, "type", action.Type, "status", current.Status)

	return current, nil
}
