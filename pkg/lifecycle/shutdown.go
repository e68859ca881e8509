package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/nightshift/droplet-scheduler/pkg/metrics"
)

// State is a shutdown machine state.
type State string

// Shutdown machine states.
const (
	StateLocked   State = "locked"
	StateActive   State = "active"
	StateOff      State = "off"
	StateDeleting State = "deleting"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// classify maps a freshly read droplet onto a machine state. Locked wins over
// any status: an action is still running against the droplet.
func classify(d *digitalocean.Droplet) State {
	if d.Locked {
		return StateLocked
	}
	switch d.Status {
	case digitalocean.StatusActive, digitalocean.StatusNew:
		return StateActive
	case digitalocean.StatusOff, digitalocean.StatusArchive:
		return StateOff
	default:
		return StateFailed
	}
}

// ShutdownMachine takes one droplet from running to deleted, making sure a
// backup image exists before the delete.
type ShutdownMachine struct {
	api       API
	clock     Clock
	waiter    *Waiter
	locator   *Locator
	namespace string
	timings   Timings
	recorder  Recorder
}

// NewShutdownMachine creates a shutdown machine. recorder may be nil.
func NewShutdownMachine(api API, clock Clock, imageNamespace string, t Timings, recorder Recorder) *ShutdownMachine {
	return &ShutdownMachine{
		api:       api,
		clock:     clock,
		waiter:    NewWaiter(api, clock, t),
		locator:   NewLocator(api, imageNamespace),
		namespace: imageNamespace,
		timings:   t,
		recorder:  recorder,
	}
}

// Run drives dropletID until it has been deleted behind a verified image.
// Each iteration starts from a fresh read of the droplet.
func (m *ShutdownMachine) Run(ctx context.Context, dropletID int) error {
	slog.Info("shutdown_started", "droplet_id", dropletID, "image_name", ImageName(m.namespace, dropletID))

	var prev State
	for {
		droplet, err := m.api.GetDroplet(ctx, dropletID)
		if digitalocean.IsNotFound(err) {
			slog.Warn("droplet_already_gone", "droplet_id", dropletID)
			m.transition(dropletID, prev, StateDone)
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "get droplet %d", dropletID)
		}

		state := classify(droplet)
		m.transition(dropletID, prev, state)
		prev = state

		switch state {
		case StateLocked:
			slog.Info("droplet_locked_waiting", "droplet_id", dropletID, "backoff", m.timings.LockBackoff)
			if err := m.clock.Sleep(ctx, m.timings.LockBackoff); err != nil {
				return err
			}

		case StateActive:
			if err := m.powerDown(ctx, dropletID); err != nil {
				return err
			}

		case StateOff:
			deleted, err := m.backupAndKill(ctx, dropletID)
			if err != nil {
				return err
			}
			if deleted {
				m.transition(dropletID, StateDeleting, StateDone)
				slog.Info("shutdown_complete", "droplet_id", dropletID)
				return nil
			}
			slog.Error("safe_kill_failed_retrying", "droplet_id", dropletID, "backoff", m.timings.RetryBackoff)
			if err := m.clock.Sleep(ctx, m.timings.RetryBackoff); err != nil {
				return err
			}

		default:
			slog.Error("droplet_unknown_status", "droplet_id", dropletID, "status", droplet.Status)
			return &UnknownStatusError{DropletID: dropletID, Status: droplet.Status}
		}
	}
}

// powerDown asks for a graceful shutdown and falls back to a hard power off
// if that errors or is refused. The outcome is not trusted: the caller
// re-reads the droplet either way.
func (m *ShutdownMachine) powerDown(ctx context.Context, dropletID int) error {
	var result *digitalocean.Action
	var apiErr *digitalocean.APIError

	action, err := m.issue(ctx, dropletID, digitalocean.ActionRequest{Type: digitalocean.ActionShutdown})
	switch {
	case err == nil:
		if result, err = m.wait(ctx, dropletID, action); err != nil {
			return err
		}
	case errors.As(err, &apiErr):
		slog.Warn("shutdown_rejected", "droplet_id", dropletID, "status_code", apiErr.StatusCode, "error", err)
		result = &digitalocean.Action{Type: digitalocean.ActionShutdown, Status: digitalocean.ActionErrored}
	default:
		return err
	}

	if result.Status == digitalocean.ActionErrored {
		slog.Warn("shutdown_errored_trying_power_off", "droplet_id", dropletID)
		result, err = m.issueAndWait(ctx, dropletID, digitalocean.ActionRequest{Type: digitalocean.ActionPowerOff})
		if err != nil {
			return err
		}
	}

	slog.Info("power_down_finished", "droplet_id", dropletID, "type", result.Type, "status", result.Status)
	return nil
}

// backupAndKill makes sure a backup image exists, then deletes the droplet if
// the image can be found again. It reports whether the delete happened.
func (m *ShutdownMachine) backupAndKill(ctx context.Context, dropletID int) (bool, error) {
	image, err := m.locator.Find(ctx, dropletID)
	if err != nil {
		return false, err
	}

	if image == nil {
		name := ImageName(m.namespace, dropletID)
		slog.Info("backup_image_missing_snapshotting", "droplet_id", dropletID, "image_name", name)
		if _, err := m.issueAndWait(ctx, dropletID, digitalocean.ActionRequest{Type: digitalocean.ActionSnapshot, Name: name}); err != nil {
			return false, err
		}
	} else {
		slog.Info("backup_image_present", "droplet_id", dropletID, "image_id", image.ID, "image_name", image.Name)
	}

	return m.safeKill(ctx, dropletID)
}

// safeKill re-checks the backup image immediately before the delete and
// refuses to delete without it.
func (m *ShutdownMachine) safeKill(ctx context.Context, dropletID int) (bool, error) {
	image, err := m.locator.Find(ctx, dropletID)
	if err != nil {
		return false, err
	}
	if image == nil {
		slog.Error("delete_refused_image_missing", "droplet_id", dropletID, "image_name", ImageName(m.namespace, dropletID))
		metrics.DeletesRefusedTotal.Inc()
		record(m.recorder, m.clock, dropletID, EventDeleteRefused, ImageName(m.namespace, dropletID))
		return false, nil
	}

	m.transition(dropletID, StateOff, StateDeleting)
	slog.Info("deleting_droplet", "droplet_id", dropletID, "image_id", image.ID)

	if err := m.api.DeleteDroplet(ctx, dropletID); err != nil {
		if !digitalocean.IsNotFound(err) {
			return false, errors.Wrapf(err, "delete droplet %d", dropletID)
		}
		slog.Warn("droplet_already_deleted", "droplet_id", dropletID)
	}

	record(m.recorder, m.clock, dropletID, EventDeleted, fmt.Sprintf("image_id=%d", image.ID))
	return true, nil
}

func (m *ShutdownMachine) issueAndWait(ctx context.Context, dropletID int, req digitalocean.ActionRequest) (*digitalocean.Action, error) {
	action, err := m.issue(ctx, dropletID, req)
	if err != nil {
		return nil, err
	}
	return m.wait(ctx, dropletID, action)
}

func (m *ShutdownMachine) issue(ctx context.Context, dropletID int, req digitalocean.ActionRequest) (*digitalocean.Action, error) {
	action, err := m.api.PostDropletAction(ctx, dropletID, req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s droplet %d", req.Type, dropletID)
	}
	if action.Type == "" {
		action.Type = req.Type
	}
	slog.Info("action_issued", "droplet_id", dropletID, "type", req.Type, "action_id", action.ID)
	record(m.recorder, m.clock, dropletID, EventActionIssued, req.Type)
	return action, nil
}

func (m *ShutdownMachine) wait(ctx context.Context, dropletID int, action *digitalocean.Action) (*digitalocean.Action, error) {
	result, err := m.waiter.Wait(ctx, action)
	if err != nil {
		return nil, err
	}
	metrics.ActionsTotal.WithLabelValues(action.Type, result.Status).Inc()
	record(m.recorder, m.clock, dropletID, EventActionResult, action.Type+"="+result.Status)
	return result, nil
}

func (m *ShutdownMachine) transition(dropletID int, from, to State) {
	if from == to {
		return
	}
	slog.Info("shutdown_transition", "droplet_id", dropletID, "from", string(from), "to", string(to))
	record(m.recorder, m.clock, dropletID, EventTransition, fmt.Sprintf("%s->%s", from, to))
}
