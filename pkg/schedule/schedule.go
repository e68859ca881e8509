// Package schedule decides whether the managed droplet should exist right now.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Window is a set of UTC hours during which the droplet should run.
// The zero value is empty and never runs.
type Window struct {
	hours [24]bool
}

// ParseWindow parses a comma separated list of hours and hour ranges, for
// example "9,10,11", "9-17" or "22-2". Ranges are inclusive and wrap past
// midnight. An empty string yields an empty window.
func ParseWindow(s string) (Window, error) {
	var w Window
	s = strings.TrimSpace(s)
	if s == "" {
		return w, nil
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		start, err := parseHour(lo)
		if err != nil {
			return Window{}, err
		}
		if !isRange {
			w.hours[start] = true
			continue
		}
		end, err := parseHour(hi)
		if err != nil {
			return Window{}, err
		}
		for h := start; ; h = (h + 1) % 24 {
			w.hours[h] = true
			if h == end {
				break
			}
		}
	}
	return w, nil
}

func parseHour(s string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid hour %q", s)
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range 0-23", h)
	}
	return h, nil
}

// NewWindow builds a window from explicit hours.
func NewWindow(hours ...int) (Window, error) {
	var w Window
	for _, h := range hours {
		if h < 0 || h > 23 {
			return Window{}, fmt.Errorf("hour %d out of range 0-23", h)
		}
		w.hours[h] = true
	}
	return w, nil
}

// ShouldRun reports whether the UTC hour of now is in the window.
func (w Window) ShouldRun(now time.Time) bool {
	return w.hours[now.UTC().Hour()]
}

// Hours returns the hours in the window in ascending order.
func (w Window) Hours() []int {
	var out []int
	for h, on := range w.hours {
		if on {
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}

// Empty reports whether the window contains no hours.
func (w Window) Empty() bool {
	return len(w.Hours()) == 0
}

func (w Window) String() string {
	hours := w.Hours()
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}

// Decision is what an invocation should do.
type Decision string

const (
	DecisionNone     Decision = "none"
	DecisionRestore  Decision = "restore"
	DecisionShutdown Decision = "shutdown"
)

// Decide compares the desired state with the observed droplet count.
func Decide(shouldRun bool, dropletCount int) Decision {
	isRunning := dropletCount > 0
	switch {
	case shouldRun == isRunning:
		return DecisionNone
	case shouldRun:
		return DecisionRestore
	default:
		return DecisionShutdown
	}
}
