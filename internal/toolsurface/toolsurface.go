// Package toolsurface implements C13: transport-independent handlers
// for the ten tool operations spec.md §4.13 defines. Grounded on
// cmd/factory/main.go's runInitBoard/runStatusCmd command-handler shape,
// generalized from one-off CLI commands into a reusable handler set a
// CLI and an (out-of-scope) MCP transport can both call.
package toolsurface

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-ai/marcus-core/internal/bus"
	"github.com/marcus-ai/marcus-core/internal/gridlock"
	"github.com/marcus-ai/marcus-core/internal/lease"
	"github.com/marcus-ai/marcus-core/internal/marcuserr"
	"github.com/marcus-ai/marcus-core/internal/memory"
	"github.com/marcus-ai/marcus-core/internal/registry"
	"github.com/marcus-ai/marcus-core/internal/scheduler"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/internal/subtasks"
	"github.com/marcus-ai/marcus-core/internal/taskcontext"
	"github.com/marcus-ai/marcus-core/kanban"
)

// Handlers wires every dependency the ten tool operations need. It holds
// no state of its own beyond what is injected.
type Handlers struct {
	Store     store.Store
	Registry  *registry.Registry
	Scheduler *scheduler.Engine
	Leases    *lease.Manager
	Context   *taskcontext.Materializer
	Subtasks  *subtasks.Manager
	Gridlock  *gridlock.Detector
	Learner   *memory.Learner
	Bus       *bus.Bus
}

// RegisterAgent records a new worker's profile. spec.md §4.13 requires
// agent_id be unique: a second registration under the same id is
// rejected with AlreadyRegistered rather than silently upserted.
func (h *Handlers) RegisterAgent(ctx context.Context, agentID, role, name string, skills []string) (*kanban.AgentProfile, error) {
	if agentID == "" {
		agentID = uuid.New().String()
	}
	var existing kanban.AgentProfile
	if err := h.Store.Get(ctx, "agents", agentID, &existing); err == nil {
		return nil, marcuserr.AlreadyRegistered("agent " + agentID + " is already registered")
	}

	now := time.Now()
	profile := kanban.AgentProfile{
		ID:           agentID,
		Name:         name,
		Role:         role,
		Skills:       skills,
		Capacity:     kanban.DefaultAgentCapacity,
		LastSeen:     now,
		RegisteredAt: now,
	}
	if err := h.Store.Put(ctx, "agents", agentID, profile); err != nil {
		return nil, fmt.Errorf("persisting agent profile %s: %w", agentID, err)
	}
	h.publish(ctx, "agent.registered", profile)
	return &profile, nil
}

// RequestNextTask pulls the best available task/subtask for agentID,
// recording a gridlock refusal when nothing is available.
func (h *Handlers) RequestNextTask(ctx context.Context, agentID string) (*kanban.TaskContext, *kanban.Lease, error) {
	project, err := h.Registry.ActiveProject(ctx)
	if err != nil {
		return nil, nil, err
	}
	var profile kanban.AgentProfile
	if err := h.Store.Get(ctx, "agents", agentID, &profile); err != nil {
		return nil, nil, marcuserr.Invalid("agent must call register_agent before requesting work")
	}

	tc, lse, err := h.Scheduler.RequestNextTask(ctx, project.ID, profile, project.Config)
	if err != nil {
		if marcuserr.Is(err, marcuserr.KindNotFound) {
			h.Gridlock.RecordRefusal(project.ID)
			if err := h.maybeRaiseGridlock(ctx, project.ID, project.Config); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, err
	}
	h.Gridlock.RecordProgress(project.ID)
	h.publish(ctx, "task.assigned", map[string]any{"agent_id": agentID, "lease_id": lse.ID})
	return tc, lse, nil
}

func (h *Handlers) maybeRaiseGridlock(ctx context.Context, projectID string, cfg kanban.ProjectConfig) error {
	rows, err := h.Store.Query(ctx, "tasks", func(v map[string]any) bool { return v["project_id"] == projectID }, 0, 0)
	if err != nil {
		return fmt.Errorf("querying tasks for gridlock check: %w", err)
	}
	tasks := make([]kanban.Task, 0, len(rows))
	for _, row := range rows {
		var t kanban.Task
		if decode(row, &t) {
			tasks = append(tasks, t)
		}
	}
	if locked, reason := h.Gridlock.Evaluate(projectID, tasks, cfg.GridlockWindow, cfg.GridlockCooldown); locked {
		h.publish(ctx, "gridlock.detected", map[string]any{"project_id": projectID, "reason": reason})
	}
	return nil
}

// ReportTaskProgress renews the agent's lease (heartbeat) and optionally
// transitions the task/subtask to done, triggering subtask rollup.
// agentID must match the lease's current holder or the call is rejected
// with StaleLease (spec.md §4.8).
func (h *Handlers) ReportTaskProgress(ctx context.Context, agentID, leaseID string, done bool, outcome *kanban.Outcome) error {
	project, err := h.Registry.ActiveProject(ctx)
	if err != nil {
		return err
	}

	if !done {
		_, err := h.Leases.Renew(ctx, leaseID, agentID, project.Config.LeaseTTL)
		return err
	}

	var l kanban.Lease
	if err := h.Store.Get(ctx, "leases", leaseID, &l); err != nil {
		return err
	}
	if err := h.Leases.Complete(ctx, leaseID, agentID); err != nil {
		return err
	}
	if err := h.completeTaskOrSubtask(ctx, l); err != nil {
		return err
	}
	if outcome != nil {
		outcome.ProjectID = l.ProjectID
		outcome.TaskID = l.TaskID
		outcome.AgentID = l.AgentID
		if err := h.Learner.Record(ctx, *outcome); err != nil {
			return err
		}
	}
	if l.IsSubtask {
		var sub kanban.Subtask
		if err := h.Store.Get(ctx, "subtasks", l.TaskID, &sub); err == nil {
			if _, err := h.Subtasks.CheckRollup(ctx, sub.ParentTaskID); err != nil {
				return err
			}
		}
	}
	h.publish(ctx, "task.completed", map[string]any{"lease_id": leaseID})
	return nil
}

func (h *Handlers) completeTaskOrSubtask(ctx context.Context, l kanban.Lease) error {
	collection := "tasks"
	if l.IsSubtask {
		collection = "subtasks"
	}
	var raw map[string]any
	rows, err := h.Store.Query(ctx, collection, func(v map[string]any) bool { return v["id"] == l.TaskID }, 0, 1)
	if err != nil || len(rows) == 0 {
		return fmt.Errorf("loading %s %s for completion: %w", collection, l.TaskID, err)
	}
	raw = rows[0]
	raw["status"] = string(kanban.StatusDone)
	raw["updated_at"] = time.Now().Format(time.RFC3339)
	return h.Store.Put(ctx, collection, l.TaskID, raw)
}

// ReportBlocker transitions a task/subtask to blocked and records the
// reason as a decision for future context.
func (h *Handlers) ReportBlocker(ctx context.Context, leaseID, reason string) error {
	var l kanban.Lease
	if err := h.Store.Get(ctx, "leases", leaseID, &l); err != nil {
		return err
	}
	collection := "tasks"
	if l.IsSubtask {
		collection = "subtasks"
	}
	rows, err := h.Store.Query(ctx, collection, func(v map[string]any) bool { return v["id"] == l.TaskID }, 0, 1)
	if err != nil || len(rows) == 0 {
		return fmt.Errorf("loading %s %s for blocker report: %w", collection, l.TaskID, err)
	}
	raw := rows[0]
	raw["status"] = string(kanban.StatusBlocked)
	raw["updated_at"] = time.Now().Format(time.RFC3339)
	if err := h.Store.Put(ctx, collection, l.TaskID, raw); err != nil {
		return err
	}

	decision := kanban.Decision{
		ID:        uuid.New().String(),
		ProjectID: l.ProjectID,
		TaskID:    l.TaskID,
		AgentID:   l.AgentID,
		Summary:   "reported blocker",
		Rationale: reason,
		CreatedAt: time.Now(),
	}
	if err := h.Store.Put(ctx, "decisions", decision.ID, decision); err != nil {
		return err
	}
	h.publish(ctx, "task.blocked", map[string]any{"task_id": l.TaskID, "reason": reason})
	return nil
}

// GetTaskContext materializes full context for a task/subtask.
func (h *Handlers) GetTaskContext(ctx context.Context, taskOrSubtaskID string) (*kanban.TaskContext, error) {
	project, err := h.Registry.ActiveProject(ctx)
	if err != nil {
		return nil, err
	}
	return h.Context.Materialize(ctx, project.ID, taskOrSubtaskID, project.Config.MaxContextDepth)
}

// LogDecision persists a Decision.
func (h *Handlers) LogDecision(ctx context.Context, agentID, taskID, summary, rationale string) (*kanban.Decision, error) {
	project, err := h.Registry.ActiveProject(ctx)
	if err != nil {
		return nil, err
	}
	d := kanban.Decision{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		TaskID:    taskID,
		AgentID:   agentID,
		Summary:   summary,
		Rationale: rationale,
		CreatedAt: time.Now(),
	}
	if err := h.Store.Put(ctx, "decisions", d.ID, d); err != nil {
		return nil, fmt.Errorf("persisting decision %s: %w", d.ID, err)
	}
	h.publish(ctx, "decision.logged", d)
	return &d, nil
}

// LogArtifact persists an Artifact, including structured review
// findings when Kind is "review" (see SPEC_FULL.md §7).
func (h *Handlers) LogArtifact(ctx context.Context, agentID, taskID string, a kanban.Artifact) (*kanban.Artifact, error) {
	project, err := h.Registry.ActiveProject(ctx)
	if err != nil {
		return nil, err
	}
	a.ID = uuid.New().String()
	a.ProjectID = project.ID
	a.TaskID = taskID
	a.AgentID = agentID
	a.CreatedAt = time.Now()
	if a.Kind == "" {
		a.Kind = kanban.ArtifactKindGeneric
	}
	if err := h.Store.Put(ctx, "artifacts", a.ID, a); err != nil {
		return nil, fmt.Errorf("persisting artifact %s: %w", a.ID, err)
	}
	h.publish(ctx, "artifact.logged", a)
	return &a, nil
}

// CreateProject registers a new project and makes it active.
func (h *Handlers) CreateProject(ctx context.Context, name string) (*kanban.Project, error) {
	p, err := h.Registry.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	h.publish(ctx, "project.created", p)
	return p, nil
}

// SelectProject switches the active project.
func (h *Handlers) SelectProject(ctx context.Context, projectID string) error {
	if err := h.Registry.SelectProject(ctx, projectID); err != nil {
		return err
	}
	h.publish(ctx, "project.selected", map[string]any{"project_id": projectID})
	return nil
}

// Diagnosis is diagnose's structured result.
type Diagnosis struct {
	ProjectID      string `json:"project_id"`
	TotalTasks     int    `json:"total_tasks"`
	DoneTasks      int    `json:"done_tasks"`
	BlockedTasks   int    `json:"blocked_tasks"`
	ActiveLeases   int    `json:"active_leases"`
	StalledLeases  int    `json:"stalled_leases"`
	Gridlocked     bool   `json:"gridlocked"`
	GridlockReason string `json:"gridlock_reason,omitempty"`
}

// Diagnose produces the system-health snapshot spec.md §4.10 and
// SPEC_FULL.md §7 require, grounded on kanban.ComputeSystemHealth.
func (h *Handlers) Diagnose(ctx context.Context) (*Diagnosis, error) {
	project, err := h.Registry.ActiveProject(ctx)
	if err != nil {
		return nil, err
	}

	taskRows, err := h.Store.Query(ctx, "tasks", func(v map[string]any) bool { return v["project_id"] == project.ID }, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying tasks for diagnose: %w", err)
	}
	d := &Diagnosis{ProjectID: project.ID}
	var tasks []kanban.Task
	for _, row := range taskRows {
		var t kanban.Task
		if !decode(row, &t) {
			continue
		}
		tasks = append(tasks, t)
		d.TotalTasks++
		switch t.Status {
		case kanban.StatusDone:
			d.DoneTasks++
		case kanban.StatusBlocked:
			d.BlockedTasks++
		}
	}

	leaseRows, err := h.Store.Query(ctx, "leases", func(v map[string]any) bool { return v["project_id"] == project.ID }, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying leases for diagnose: %w", err)
	}
	for _, row := range leaseRows {
		status, _ := row["status"].(string)
		switch kanban.LeaseStatus(status) {
		case kanban.LeaseActive, kanban.LeaseRenewed:
			d.ActiveLeases++
		case kanban.LeaseStalled:
			d.StalledLeases++
		}
	}

	locked, reason := h.Gridlock.Evaluate(project.ID, tasks, project.Config.GridlockWindow, project.Config.GridlockCooldown)
	d.Gridlocked = locked
	d.GridlockReason = reason
	return d, nil
}

func (h *Handlers) publish(ctx context.Context, topic string, payload any) {
	if h.Bus == nil {
		return
	}
	h.Bus.Publish(ctx, kanban.Event{Topic: topic, Payload: payload}, false)
}
