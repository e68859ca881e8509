package lifecycle

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/nightshift/droplet-scheduler/pkg/lifecycle/lifecycletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ns = "nightshift-"

func newShutdown(p *lifecycletest.Provider) (*ShutdownMachine, *lifecycletest.Clock, *EventLog) {
	clock := lifecycletest.NewClock(epoch)
	log := &EventLog{}
	return NewShutdownMachine(p, clock, ns, DefaultTimings(), log), clock, log
}

func eventDetails(events []Event, kind string) []string {
	var out []string
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e.Detail)
		}
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		droplet digitalocean.Droplet
		want    State
	}{
		{digitalocean.Droplet{Status: digitalocean.StatusActive}, StateActive},
		{digitalocean.Droplet{Status: digitalocean.StatusNew}, StateActive},
		{digitalocean.Droplet{Status: digitalocean.StatusOff}, StateOff},
		{digitalocean.Droplet{Status: digitalocean.StatusArchive}, StateOff},
		{digitalocean.Droplet{Status: digitalocean.StatusActive, Locked: true}, StateLocked},
		{digitalocean.Droplet{Status: digitalocean.StatusOff, Locked: true}, StateLocked},
		{digitalocean.Droplet{Status: "migrating"}, StateFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.want)+"_"+tt.droplet.Status, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(&tt.droplet))
		})
	}
}

func TestShutdown_ActiveDropletIsBackedUpAndDeleted(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusActive})
	m, _, log := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{
		"POST shutdown 7",
		"POST snapshot 7 nightshift-7",
		"DELETE droplet 7",
	}, p.Mutations())
	assert.Zero(t, p.DropletCount())
	assert.Zero(t, p.UnsafeDeletes())
	require.Len(t, p.Images(), 1)
	assert.Equal(t, "nightshift-7", p.Images()[0].Name)

	assert.Equal(t, []string{"->active", "active->off", "off->deleting", "deleting->done"},
		eventDetails(log.Events(), EventTransition))
	assert.Equal(t, []string{"shutdown=completed", "snapshot=completed"},
		eventDetails(log.Events(), EventActionResult))
}

func TestShutdown_ErroredShutdownFallsBackToPowerOffOnce(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusActive})
	p.Outcomes[digitalocean.ActionShutdown] = lifecycletest.Outcome{Status: digitalocean.ActionErrored, Polls: 1}
	m, _, _ := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{
		"POST shutdown 7",
		"POST power_off 7",
		"POST snapshot 7 nightshift-7",
		"DELETE droplet 7",
	}, p.Mutations())
}

func TestShutdown_StuckShutdownTimesOutThenPowersOff(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusActive})
	p.Outcomes[digitalocean.ActionShutdown] = lifecycletest.Stuck
	m, clock, log := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, 1, countPrefix(p.Mutations(), "POST shutdown"))
	assert.Equal(t, 1, countPrefix(p.Mutations(), "POST power_off"))
	assert.GreaterOrEqual(t, clock.Slept(), 120*time.Second)
	assert.Contains(t, eventDetails(log.Events(), EventActionResult), "shutdown=errored")
}

func TestShutdown_RejectedShutdownFallsBackToPowerOff(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusActive})
	p.RejectShutdown = true
	m, _, _ := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{
		"POST shutdown 7",
		"POST power_off 7",
		"POST snapshot 7 nightshift-7",
		"DELETE droplet 7",
	}, p.Mutations())
}

func TestShutdown_OffWithImageDeletesWithoutSnapshot(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusOff})
	p.AddImage(digitalocean.Image{ID: 55, Name: "nightshift-7"})
	m, _, log := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{"DELETE droplet 7"}, p.Mutations())
	assert.Equal(t, []string{"image_id=55"}, eventDetails(log.Events(), EventDeleted))
}

func TestShutdown_OffWithoutImageSnapshotsFirst(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusOff})
	m, _, _ := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{"POST snapshot 7 nightshift-7", "DELETE droplet 7"}, p.Mutations())
	assert.Len(t, p.Images(), 1)
	assert.Zero(t, p.UnsafeDeletes())
}

func TestShutdown_RefusesDeleteWithoutImageThenRetries(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusOff})
	p.MissingSnapshotImages = 1
	m, clock, log := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{
		"POST snapshot 7 nightshift-7",
		"POST snapshot 7 nightshift-7",
		"DELETE droplet 7",
	}, p.Mutations())
	assert.Zero(t, p.UnsafeDeletes())
	assert.Equal(t, []string{"nightshift-7"}, eventDetails(log.Events(), EventDeleteRefused))
	assert.GreaterOrEqual(t, clock.Slept(), DefaultTimings().RetryBackoff)
}

func TestShutdown_LockedDropletBacksOff(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusOff})
	p.AddImage(digitalocean.Image{ID: 55, Name: "nightshift-7"})
	p.LockedReads = 2
	m, clock, log := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{"DELETE droplet 7"}, p.Mutations())
	assert.Equal(t, 3, countPrefix(p.Calls(), "GET droplet 7"))
	assert.Equal(t, 2*DefaultTimings().LockBackoff, clock.Slept())
	assert.Equal(t, []string{"->locked", "locked->off", "off->deleting", "deleting->done"},
		eventDetails(log.Events(), EventTransition))
}

func TestShutdown_UnknownStatusFails(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: "migrating"})
	m, _, _ := newShutdown(p)

	err := m.Run(testContext(t), 7)
	var statusErr *UnknownStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "migrating", statusErr.Status)
	assert.Empty(t, p.Mutations())
}

func TestShutdown_MissingDropletIsDone(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	m, _, _ := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))
	assert.Empty(t, p.Mutations())
}

func TestShutdown_NewDropletIsTreatedAsActive(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusNew})
	m, _, log := newShutdown(p)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{
		"POST shutdown 7",
		"POST snapshot 7 nightshift-7",
		"DELETE droplet 7",
	}, p.Mutations())
	assert.Equal(t, []string{"->active", "active->off", "off->deleting", "deleting->done"},
		eventDetails(log.Events(), EventTransition))
	assert.Zero(t, p.DropletCount())
	assert.Zero(t, p.UnsafeDeletes())
}

// vanishingAPI deletes the droplet but answers 404, as if another caller had
// removed it between the image check and the delete.
type vanishingAPI struct {
	*lifecycletest.Provider
}

func (v vanishingAPI) DeleteDroplet(ctx context.Context, id int) error {
	if err := v.Provider.DeleteDroplet(ctx, id); err != nil {
		return err
	}
	return &digitalocean.APIError{Method: http.MethodDelete, Path: "/v2/droplets/7", StatusCode: http.StatusNotFound}
}

func TestShutdown_DeleteNotFoundAfterImageCheckIsDone(t *testing.T) {
	p := lifecycletest.NewProvider(ns)
	p.AddDroplet(digitalocean.Droplet{ID: 7, Status: digitalocean.StatusOff})
	p.AddImage(digitalocean.Image{ID: 55, Name: "nightshift-7"})
	log := &EventLog{}
	m := NewShutdownMachine(vanishingAPI{p}, lifecycletest.NewClock(epoch), ns, DefaultTimings(), log)

	require.NoError(t, m.Run(testContext(t), 7))

	assert.Equal(t, []string{"DELETE droplet 7"}, p.Mutations())
	assert.Equal(t, 1, countPrefix(p.Calls(), "GET droplet 7"))
	assert.Equal(t, []string{"image_id=55"}, eventDetails(log.Events(), EventDeleted))
	assert.Equal(t, []string{"->off", "off->deleting", "deleting->done"},
		eventDetails(log.Events(), EventTransition))
}
