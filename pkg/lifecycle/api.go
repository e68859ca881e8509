// Package lifecycle drives a single droplet between running and snapshotted.
//
// Every decision is taken on state read fresh from the API; nothing observed in
// an earlier step is trusted once an action has been issued.
package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
)

// API is the slice of the DigitalOcean API the machines need.
type API interface {
	GetDroplet(ctx context.Context, id int) (*digitalocean.Droplet, error)
	ListDropletsByTag(ctx context.Context, tag string) ([]digitalocean.Droplet, error)
	CreateDroplet(ctx context.Context, req *digitalocean.CreateRequest) (*digitalocean.Droplet, error)
	DeleteDroplet(ctx context.Context, id int) error
	ListPrivateImages(ctx context.Context) ([]digitalocean.Image, error)
	ListSnapshots(ctx context.Context) ([]digitalocean.Snapshot, error)
	GetAction(ctx context.Context, id int) (*digitalocean.Action, error)
	PostDropletAction(ctx context.Context, dropletID int, req digitalocean.ActionRequest) (*digitalocean.Action, error)
}

// Timings holds the fixed polling and backoff intervals.
type Timings struct {
	PollInterval  time.Duration
	ActionTimeout time.Duration
	LockBackoff   time.Duration
	RetryBackoff  time.Duration
}

// DefaultTimings returns the production intervals.
func DefaultTimings() Timings {
	return Timings{
		PollInterval:  5 * time.Second,
		ActionTimeout: 120 * time.Second,
		LockBackoff:   15 * time.Second,
		RetryBackoff:  15 * time.Second,
	}
}

// ErrNoSnapshot is returned by Restore when there is nothing to restore from.
var ErrNoSnapshot = errors.New("no snapshot available to restore from")

// UnknownStatusError means the droplet is in a status the shutdown machine
// cannot drive.
type UnknownStatusError struct {
	DropletID int
	Status    string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("droplet %d has unknown status %q", e.DropletID, e.Status)
}

// ImageName is the name of the backup image for a droplet.
func ImageName(namespace string, dropletID int) string {
	return namespace + strconv.Itoa(dropletID)
}
