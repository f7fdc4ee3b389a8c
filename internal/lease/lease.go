// Package lease implements C8, the Assignment Lease Manager: TTL
// leases, heartbeat renewal, and a background Monitor that detects
// stalled leases and recovers them, escalating after repeated stalls.
// Grounded directly on background.go's runPMBackground/
// healStuckDevTickets (stalled-agent detection via time.Since(StartedAt),
// status revert, activity clear) — the closest single teacher analog in
// the whole corpus. Events published: lease.issued, lease.completed,
// lease.recovered and lease.escalated; there is no periodic check-in
// event ahead of a stall.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-ai/marcus-core/internal/bus"
	"github.com/marcus-ai/marcus-core/internal/marcuserr"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

const maxStallsBeforeEscalation = 3

// Manager issues, renews, and recovers leases.
type Manager struct {
	s      store.Store
	bus    *bus.Bus
	logger *slog.Logger
}

func New(s store.Store, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{s: s, bus: b, logger: logger}
}

// Issue creates a new active lease binding agentID to a task or subtask
// for ttl, replacing spec.md's "exactly one active lease per
// (task,agent)" invariant check at the caller (internal/scheduler).
func (m *Manager) Issue(ctx context.Context, projectID, taskID string, isSubtask bool, agentID string, ttl time.Duration) (*kanban.Lease, error) {
	now := time.Now()
	l := &kanban.Lease{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		TaskID:    taskID,
		IsSubtask: isSubtask,
		AgentID:   agentID,
		Status:    kanban.LeaseActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.s.Put(ctx, "leases", l.ID, l); err != nil {
		return nil, fmt.Errorf("persisting lease %s: %w", l.ID, err)
	}
	m.publish(ctx, "lease.issued", projectID, l)
	return l, nil
}

// isLive reports whether a lease is still in a state a heartbeat or
// completion report can act on (spec.md §4.8's exactly-once semantics:
// the lease record is the authority, any report against a lease that has
// already reached Recovered or Completed is stale).
func isLive(status kanban.LeaseStatus) bool {
	return status == kanban.LeaseActive || status == kanban.LeaseRenewed
}

// Renew extends an active lease's expiry on an agent heartbeat, clearing
// any accumulated stall count — mirrors healStuckDevTickets treating any
// observed activity as proof-of-life. Rejected with StaleLease if the
// lease already stalled/completed, or if agentID does not match the
// lease's holder.
func (m *Manager) Renew(ctx context.Context, leaseID, agentID string, ttl time.Duration) (*kanban.Lease, error) {
	var l kanban.Lease
	if err := m.s.Get(ctx, "leases", leaseID, &l); err != nil {
		return nil, marcuserr.UnknownTask("lease " + leaseID)
	}
	if !isLive(l.Status) {
		return nil, marcuserr.StaleLease("lease " + leaseID + " is no longer active")
	}
	if l.AgentID != agentID {
		return nil, marcuserr.StaleLease("lease " + leaseID + " is not held by " + agentID)
	}
	l.Status = kanban.LeaseRenewed
	l.ExpiresAt = time.Now().Add(ttl)
	l.StallCount = 0
	if err := m.s.Put(ctx, "leases", l.ID, l); err != nil {
		return nil, fmt.Errorf("persisting renewed lease %s: %w", l.ID, err)
	}
	return &l, nil
}

// Complete marks a lease done when the bound task/subtask reaches a
// terminal state. Exactly-once per spec.md §4.8 and testable-property-8:
// the first completion from the holding agent succeeds; any later
// completion — from any agent, including the original holder once the
// lease has already stalled or completed — returns StaleLease.
func (m *Manager) Complete(ctx context.Context, leaseID, agentID string) error {
	var l kanban.Lease
	if err := m.s.Get(ctx, "leases", leaseID, &l); err != nil {
		return marcuserr.UnknownTask("lease " + leaseID)
	}
	if !isLive(l.Status) {
		return marcuserr.StaleLease("lease " + leaseID + " is no longer active")
	}
	if l.AgentID != agentID {
		return marcuserr.StaleLease("lease " + leaseID + " is not held by " + agentID)
	}
	l.Status = kanban.LeaseCompleted
	if err := m.s.Put(ctx, "leases", l.ID, l); err != nil {
		return fmt.Errorf("persisting completed lease %s: %w", l.ID, err)
	}
	m.publish(ctx, "lease.completed", l.ProjectID, l)
	return nil
}

// ActiveForAgent returns the agent's currently non-terminal (active or
// renewed) leases.
func (m *Manager) ActiveForAgent(ctx context.Context, projectID, agentID string) ([]kanban.Lease, error) {
	rows, err := m.s.Query(ctx, "leases", func(v map[string]any) bool {
		if v["project_id"] != projectID || v["agent_id"] != agentID {
			return false
		}
		status, _ := v["status"].(string)
		return isLive(kanban.LeaseStatus(status))
	}, 0, 0)
	if err != nil {
		return nil, err
	}
	return decodeLeases(rows), nil
}

// Tick is one lease_tick sweep: find expired live (active or renewed)
// leases, revert their task/subtask to todo, clear assignment, record the
// task's stall count (its number of stalled leases so far), and escalate
// once (priority bump, plus a "needs-review" label on tasks) when a task's
// lease stalls for the maxStallsBeforeEscalation-th time — the direct
// generalization of healStuckDevTickets's "active IN_DEV ticket with no
// running AgentRun" detection to a TTL-based check.
func (m *Manager) Tick(ctx context.Context, projectID string) error {
	rows, err := m.s.Query(ctx, "leases", func(v map[string]any) bool {
		if v["project_id"] != projectID {
			return false
		}
		status, _ := v["status"].(string)
		return isLive(kanban.LeaseStatus(status))
	}, 0, 0)
	if err != nil {
		return fmt.Errorf("querying leases for project %s: %w", projectID, err)
	}

	now := time.Now()
	for _, lease := range decodeLeases(rows) {
		if lease.ExpiresAt.After(now) {
			continue
		}
		if err := m.recover(ctx, lease); err != nil {
			m.logger.Error("failed to recover stalled lease", "lease_id", lease.ID, "error", err)
		}
	}
	return nil
}

func (m *Manager) recover(ctx context.Context, l kanban.Lease) error {
	prior, err := m.s.Query(ctx, "leases", func(v map[string]any) bool {
		return v["project_id"] == l.ProjectID && v["task_id"] == l.TaskID &&
			v["id"] != l.ID && v["status"] == string(kanban.LeaseRecovered)
	}, 0, 0)
	if err != nil {
		return fmt.Errorf("counting earlier stalls of %s: %w", l.TaskID, err)
	}
	l.StallCount = len(prior) + 1
	l.Status = kanban.LeaseStalled
	l.PreviousAgentID = l.AgentID
	escalated := l.StallCount == maxStallsBeforeEscalation && !l.Escalated
	if escalated {
		l.Escalated = true
	}

	if err := m.revertTaskOrSubtask(ctx, l, escalated); err != nil {
		return err
	}

	l.Status = kanban.LeaseRecovered
	if err := m.s.Put(ctx, "leases", l.ID, l); err != nil {
		return fmt.Errorf("persisting recovered lease %s: %w", l.ID, err)
	}

	m.publish(ctx, "lease.recovered", l.ProjectID, l)
	if escalated {
		m.publish(ctx, "lease.escalated", l.ProjectID, l)
	}
	return nil
}

func (m *Manager) revertTaskOrSubtask(ctx context.Context, l kanban.Lease, escalate bool) error {
	collection := "tasks"
	if l.IsSubtask {
		collection = "subtasks"
	}

	if l.IsSubtask {
		var sub kanban.Subtask
		if err := m.s.Get(ctx, collection, l.TaskID, &sub); err != nil {
			return err
		}
		sub.Status = kanban.StatusTodo
		sub.AssignedTo = ""
		sub.UpdatedAt = time.Now()
		if escalate {
			sub.Priority = kanban.PriorityHigh
		}
		return m.s.Put(ctx, collection, sub.ID, sub)
	}

	var task kanban.Task
	if err := m.s.Get(ctx, collection, l.TaskID, &task); err != nil {
		return err
	}
	task.Status = kanban.StatusTodo
	task.AssignedTo = ""
	task.UpdatedAt = time.Now()
	if escalate {
		task.Priority = kanban.PriorityHigh
		task.Labels = appendUnique(task.Labels, "needs-review")
	}
	task.History = append(task.History, kanban.HistoryEntry{
		Timestamp: task.UpdatedAt,
		Actor:     "lease-monitor",
		Action:    "status_change",
		Detail:    "reverted to todo after lease stall",
	})
	return m.s.Put(ctx, collection, task.ID, task)
}

func appendUnique(labels []string, add string) []string {
	for _, l := range labels {
		if l == add {
			return labels
		}
	}
	return append(labels, add)
}

func (m *Manager) publish(ctx context.Context, topic, projectID string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, kanban.Event{Topic: topic, ProjectID: projectID, Payload: payload}, false)
}

func decodeLeases(rows []map[string]any) []kanban.Lease {
	out := make([]kanban.Lease, 0, len(rows))
	for _, row := range rows {
		var l kanban.Lease
		if decode(row, &l) {
			out = append(out, l)
		}
	}
	return out
}

// Monitor runs Tick on a ticker, grounded on
// BackgroundAgentManager.runAgentLoop's ticker+select+immediate-first-run
// idiom.
type Monitor struct {
	mgr       *Manager
	projectID func() string
	interval  time.Duration
	stop      chan struct{}
	logger    *slog.Logger
}

func NewMonitor(mgr *Manager, projectID func() string, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{mgr: mgr, projectID: projectID, interval: interval, stop: make(chan struct{}), logger: logger}
}

// Run blocks, ticking until ctx is canceled or Stop is called.
func (mon *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	mon.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-mon.stop:
			return
		case <-ticker.C:
			mon.runOnce(ctx)
		}
	}
}

func (mon *Monitor) runOnce(ctx context.Context) {
	pid := mon.projectID()
	if pid == "" {
		return
	}
	if err := mon.mgr.Tick(ctx, pid); err != nil {
		mon.logger.Error("lease tick failed", "project_id", pid, "error", err)
	}
}

func (mon *Monitor) Stop() { close(mon.stop) }
