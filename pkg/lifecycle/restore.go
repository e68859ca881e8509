package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
)

// Template is the fixed shape of a restored droplet.
type Template struct {
	Name    string
	Region  string
	Size    string
	SSHKeys []string
	Tag     string
	IPv6    bool
}

// LatestSnapshot returns the most recently created snapshot, or nil if there
// are none. Names play no part in the choice.
func LatestSnapshot(snapshots []digitalocean.Snapshot) *digitalocean.Snapshot {
	if len(snapshots) == 0 {
		return nil
	}
	sorted := make([]digitalocean.Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	latest := sorted[len(sorted)-1]
	return &latest
}

// RestoreMachine recreates the managed droplet from a snapshot.
type RestoreMachine struct {
	api      API
	clock    Clock
	template Template
	recorder Recorder
}

// NewRestoreMachine creates a restore machine. recorder may be nil.
func NewRestoreMachine(api API, clock Clock, template Template, recorder Recorder) *RestoreMachine {
	return &RestoreMachine{api: api, clock: clock, template: template, recorder: recorder}
}

// Restore issues a single create request using snapshot as the disk image.
// It does not wait for the droplet to boot; the next invocation will see it.
func (m *RestoreMachine) Restore(ctx context.Context, snapshot *digitalocean.Snapshot) (*digitalocean.Droplet, error) {
	if snapshot == nil {
		return nil, ErrNoSnapshot
	}
	imageID, err := strconv.Atoi(snapshot.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot id %q is not numeric", snapshot.ID)
	}

	slog.Info("restore_started",
		"snapshot_id", snapshot.ID,
		"snapshot_name", snapshot.Name,
		"created_at", snapshot.CreatedAt,
		"droplet_name", m.template.Name,
	)

	var tags []string
	if m.template.Tag != "" {
		tags = []string{m.template.Tag}
	}
	droplet, err := m.api.CreateDroplet(ctx, &digitalocean.CreateRequest{
		Name:    m.template.Name,
		Region:  m.template.Region,
		Size:    m.template.Size,
		ImageID: imageID,
		SSHKeys: m.template.SSHKeys,
		Tags:    tags,
		IPv6:    m.template.IPv6,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create droplet from snapshot %s", snapshot.ID)
	}

	slog.Info("restore_issued", "droplet_id", droplet.ID, "snapshot_id", snapshot.ID)
	record(m.recorder, m.clock, droplet.ID, EventRestoreIssued, "snapshot_id="+snapshot.ID)
	return droplet, nil
}
