package lifecycle

import (
	"sync"
	"time"
)

// Event kinds recorded while driving droplets.
const (
	EventTransition    = "transition"
	EventActionIssued  = "action_issued"
	EventActionResult  = "action_result"
	EventDeleteRefused = "delete_refused"
	EventDeleted       = "deleted"
	EventRestoreIssued = "restore_issued"
)

// Event is one notable step taken against a droplet.
type Event struct {
	DropletID int       `json:"droplet_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Recorder receives events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(Event)
}

// EventLog is an in-memory Recorder.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *EventLog) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns a copy of everything recorded so far.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func record(r Recorder, clock Clock, dropletID int, kind, detail string) {
	if r == nil {
		return
	}
	r.Record(Event{DropletID: dropletID, Kind: kind, Detail: detail, At: clock.Now().UTC()})
}
