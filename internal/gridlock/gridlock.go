// Package gridlock implements C10, the Gridlock Detector: a per-project
// count of scheduler refusals ("no available task") since the last
// successful assignment, with a cooldown between alerts. Refusals are
// cleared only by RecordProgress; they do not age out with time. Grounded on kanban/types.go's
// ComputeSystemHealth, which classifies a board's health from ratios of
// blocked/active tickets (Accumulating when blockedRatio > 0.5, Stalled
// when active == 0 && blocked > 0) — Marcus's gridlock alert specializes
// that same health classification to "every remaining task is blocked".
package gridlock

import (
	"sync"
	"time"

	"github.com/marcus-ai/marcus-core/kanban"
)

// Window tracks one project's recent refusal history.
type window struct {
	refusals    []time.Time
	lastAlertAt time.Time
}

// Detector evaluates gridlock per project, per DESIGN.md's Open
// Question 3 decision (cooldown is per-project, not global).
type Detector struct {
	mu      sync.Mutex
	windows map[string]*window
}

func New() *Detector {
	return &Detector{windows: make(map[string]*window)}
}

func (d *Detector) windowFor(projectID string) *window {
	w, ok := d.windows[projectID]
	if !ok {
		w = &window{}
		d.windows[projectID] = w
	}
	return w
}

// RecordRefusal registers one "scheduler had nothing to assign" event
// for projectID.
func (d *Detector) RecordRefusal(projectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.windowFor(projectID)
	w.refusals = append(w.refusals, time.Now())
}

// RecordProgress clears the refusal window on any successful
// assignment — forward progress resets the gridlock clock.
func (d *Detector) RecordProgress(projectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.windowFor(projectID)
	w.refusals = nil
}

// Evaluate reports whether projectID is currently gridlocked: at least
// windowSize refusals recorded since the last progress, at least one
// non-done task, every non-done task in status blocked, and the cooldown
// since the last alert elapsed. Dependencies are not inspected: a todo
// task waiting on an unmet dependency, like an in-progress task, counts
// as not blocked. A true result starts a new cooldown.
func (d *Detector) Evaluate(projectID string, tasks []kanban.Task, windowSize int, cooldown time.Duration) (gridlocked bool, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.windowFor(projectID)

	if len(w.refusals) < windowSize {
		return false, ""
	}
	if !w.lastAlertAt.IsZero() && time.Since(w.lastAlertAt) < cooldown {
		return false, ""
	}

	remaining := 0
	blocked := 0
	for _, t := range tasks {
		if t.Status == kanban.StatusDone {
			continue
		}
		remaining++
		if t.Status == kanban.StatusBlocked {
			blocked++
		}
	}
	if remaining == 0 || blocked < remaining {
		return false, ""
	}

	w.lastAlertAt = time.Now()
	return true, "every remaining task is blocked and the scheduler has made no progress"
}
