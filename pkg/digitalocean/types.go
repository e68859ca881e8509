package digitalocean

import "time"

// Droplet statuses reported by the API.
const (
	StatusNew     = "new"
	StatusActive  = "active"
	StatusOff     = "off"
	StatusArchive = "archive"
)

// Action statuses. Errored is also used for actions the waiter gave up on.
const (
	ActionInProgress = "in-progress"
	ActionCompleted  = "completed"
	ActionErrored    = "errored"
)

// Droplet action types.
const (
	ActionShutdown = "shutdown"
	ActionPowerOff = "power_off"
	ActionSnapshot = "snapshot"
)

// Droplet is the subset of droplet state the scheduler acts on.
type Droplet struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Locked bool     `json:"locked"`
	Tags   []string `json:"tags,omitempty"`
}

// Image is a private (user) image.
type Image struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a droplet snapshot usable as a create source.
type Snapshot struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ResourceID string    `json:"resource_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Action is a handle on an asynchronous operation.
type Action struct {
	ID     int    `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ActionRequest is the body of POST /v2/droplets/{id}/actions.
type ActionRequest struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// CreateRequest describes a droplet to create from an existing image.
type CreateRequest struct {
	Name       string
	Region     string
	Size       string
	ImageID    int
	SSHKeys    []string
	Tags       []string
	IPv6       bool
	Backups    bool
	Monitoring bool
}
