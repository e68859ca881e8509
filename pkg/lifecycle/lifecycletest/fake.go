// Package lifecycletest provides an in-memory DigitalOcean provider and a
// simulated clock for exercising the lifecycle machines.
package lifecycletest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
)

// Outcome scripts how an action of a given type behaves: it reports
// in-progress for Polls reads and then Status. A Status of in-progress never
// finishes.
type Outcome struct {
	Status string
	Polls  int
}

// Stuck is an action that never leaves in-progress.
var Stuck = Outcome{Status: digitalocean.ActionInProgress}

type action struct {
	digitalocean.Action
	dropletID int
	name      string
	pollsLeft int
	final     string
	applied   bool
}

// Provider is an in-memory stand-in for the DigitalOcean API.
type Provider struct {
	mu sync.Mutex

	ImageNamespace string
	Outcomes       map[string]Outcome
	// LockedReads makes the next N droplet reads report the droplet locked.
	LockedReads int
	// MissingSnapshotImages makes the next N completed snapshots produce no image.
	MissingSnapshotImages int
	// RejectShutdown answers shutdown requests with a 422.
	RejectShutdown bool

	droplets  map[int]*digitalocean.Droplet
	images    []digitalocean.Image
	snapshots []digitalocean.Snapshot
	actions   map[int]*action
	nextID    int
	calls     []string

	// unsafeDeletes counts deletes issued while no backup image existed.
	unsafeDeletes int
}

// NewProvider creates an empty provider that names backup images with ns.
func NewProvider(ns string) *Provider {
	return &Provider{
		ImageNamespace: ns,
		Outcomes:       map[string]Outcome{},
		droplets:       map[int]*digitalocean.Droplet{},
		actions:        map[int]*action{},
		nextID:         1000,
	}
}

// AddDroplet seeds a droplet.
func (p *Provider) AddDroplet(d digitalocean.Droplet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.droplets[d.ID] = &d
}

// AddImage seeds a private image.
func (p *Provider) AddImage(img digitalocean.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images = append(p.images, img)
}

// AddSnapshot seeds a droplet snapshot.
func (p *Provider) AddSnapshot(s digitalocean.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
}

// Droplet returns a copy of a droplet and whether it exists.
func (p *Provider) Droplet(id int) (digitalocean.Droplet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.droplets[id]
	if !ok {
		return digitalocean.Droplet{}, false
	}
	return *d, true
}

// DropletCount returns how many droplets exist.
func (p *Provider) DropletCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.droplets)
}

// Images returns a copy of the private images.
func (p *Provider) Images() []digitalocean.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]digitalocean.Image(nil), p.images...)
}

// Calls returns every API call made so far, in order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Mutations returns the calls that change remote state.
func (p *Provider) Mutations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if strings.HasPrefix(c, "POST ") || strings.HasPrefix(c, "DELETE ") {
			out = append(out, c)
		}
	}
	return out
}

// UnsafeDeletes returns the number of deletes issued without a backup image.
func (p *Provider) UnsafeDeletes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsafeDeletes
}

func (p *Provider) call(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func notFound(method, path string) error {
	return &digitalocean.APIError{
		Method:     method,
		Path:       path,
		StatusCode: http.StatusNotFound,
		Body:       `{"id":"not_found","message":"The resource you were accessing could not be found."}`,
	}
}

func (p *Provider) GetDroplet(ctx context.Context, id int) (*digitalocean.Droplet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("GET droplet %d", id)

	d, ok := p.droplets[id]
	if !ok {
		return nil, notFound(http.MethodGet, fmt.Sprintf("/v2/droplets/%d", id))
	}
	out := *d
	if p.LockedReads > 0 {
		p.LockedReads--
		out.Locked = true
	}
	return &out, nil
}

func (p *Provider) ListDropletsByTag(ctx context.Context, tag string) ([]digitalocean.Droplet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("GET droplets tag=%s", tag)

	var out []digitalocean.Droplet
	for _, d := range p.droplets {
		for _, t := range d.Tags {
			if t == tag {
				out = append(out, *d)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *Provider) CreateDroplet(ctx context.Context, req *digitalocean.CreateRequest) (*digitalocean.Droplet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("POST droplet image=%d", req.ImageID)

	p.nextID++
	d := &digitalocean.Droplet{ID: p.nextID, Name: req.Name, Status: digitalocean.StatusNew, Tags: req.Tags}
	p.droplets[d.ID] = d
	out := *d
	return &out, nil
}

func (p *Provider) DeleteDroplet(ctx context.Context, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("DELETE droplet %d", id)

	if _, ok := p.droplets[id]; !ok {
		return notFound(http.MethodDelete, fmt.Sprintf("/v2/droplets/%d", id))
	}
	if !p.hasImageLocked(p.ImageNamespace + strconv.Itoa(id)) {
		p.unsafeDeletes++
	}
	delete(p.droplets, id)
	return nil
}

func (p *Provider) ListPrivateImages(ctx context.Context) ([]digitalocean.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("GET images")
	return append([]digitalocean.Image(nil), p.images...), nil
}

func (p *Provider) ListSnapshots(ctx context.Context) ([]digitalocean.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("GET snapshots")
	return append([]digitalocean.Snapshot(nil), p.snapshots...), nil
}

func (p *Provider) PostDropletAction(ctx context.Context, dropletID int, req digitalocean.ActionRequest) (*digitalocean.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Name != "" {
		p.call("POST %s %d %s", req.Type, dropletID, req.Name)
	} else {
		p.call("POST %s %d", req.Type, dropletID)
	}

	path := fmt.Sprintf("/v2/droplets/%d/actions", dropletID)
	if _, ok := p.droplets[dropletID]; !ok {
		return nil, notFound(http.MethodPost, path)
	}
	if req.Type == digitalocean.ActionShutdown && p.RejectShutdown {
		return nil, &digitalocean.APIError{
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: http.StatusUnprocessableEntity,
			Body:       `{"id":"unprocessable_entity","message":"Droplet is already being shut down"}`,
		}
	}

	outcome, ok := p.Outcomes[req.Type]
	if !ok {
		outcome = Outcome{Status: digitalocean.ActionCompleted}
	}
	p.nextID++
	a := &action{
		Action:    digitalocean.Action{ID: p.nextID, Type: req.Type, Status: digitalocean.ActionInProgress},
		dropletID: dropletID,
		name:      req.Name,
		pollsLeft: outcome.Polls,
		final:     outcome.Status,
	}
	p.actions[a.ID] = a
	out := a.Action
	return &out, nil
}

func (p *Provider) GetAction(ctx context.Context, id int) (*digitalocean.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.call("GET action %d", id)

	a, ok := p.actions[id]
	if !ok {
		return nil, notFound(http.MethodGet, fmt.Sprintf("/v2/actions/%d", id))
	}
	if a.Status == digitalocean.ActionInProgress {
		if a.pollsLeft > 0 {
			a.pollsLeft--
		} else {
			a.Status = a.final
		}
	}
	if a.Status == digitalocean.ActionCompleted && !a.applied {
		a.applied = true
		p.applyLocked(a)
	}
	out := a.Action
	return &out, nil
}

// applyLocked performs the side effect of a completed action.
func (p *Provider) applyLocked(a *action) {
	d, ok := p.droplets[a.dropletID]
	if !ok {
		return
	}
	switch a.Type {
	case digitalocean.ActionShutdown, digitalocean.ActionPowerOff:
		d.Status = digitalocean.StatusOff
	case digitalocean.ActionSnapshot:
		if p.MissingSnapshotImages > 0 {
			p.MissingSnapshotImages--
			return
		}
		p.nextID++
		created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(p.nextID) * time.Minute)
		p.images = append(p.images, digitalocean.Image{ID: p.nextID, Name: a.name, CreatedAt: created})
		p.snapshots = append(p.snapshots, digitalocean.Snapshot{
			ID:         strconv.Itoa(p.nextID),
			Name:       a.name,
			ResourceID: strconv.Itoa(d.ID),
			CreatedAt:  created,
		})
	}
}

func (p *Provider) hasImageLocked(name string) bool {
	for _, img := range p.images {
		if img.Name == name {
			return true
		}
	}
	return false
}

// Clock is a simulated clock: Sleep advances time instantly.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

// NewClock returns a clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return nil
}

// Slept returns the total simulated time spent sleeping.
func (c *Clock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}
