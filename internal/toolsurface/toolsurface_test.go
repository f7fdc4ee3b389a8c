package toolsurface

import (
	"context"
	"testing"

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

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	reg, err := registry.New(ctx, s)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	eventBus := bus.New(nil, 100)
	learner := memory.New(s)
	leaseMgr := lease.New(s, eventBus, nil)
	return &Handlers{
		Store:     s,
		Registry:  reg,
		Scheduler: scheduler.New(s, leaseMgr, learner),
		Leases:    leaseMgr,
		Context:   taskcontext.New(s),
		Subtasks:  subtasks.New(s, nil),
		Gridlock:  gridlock.New(),
		Learner:   learner,
		Bus:       eventBus,
	}
}

// TestEndToEndScenario exercises the S1-style golden path spec.md §8
// describes: create a project, register an agent, pull a task, report
// progress to completion, and confirm the task surfaces as done.
func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	h := newTestHandlers(t)

	project, err := h.CreateProject(ctx, "demo")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	task := kanban.Task{ID: "task1", ProjectID: project.ID, Status: kanban.StatusTodo, Priority: kanban.PriorityHigh}
	if err := h.Store.Put(ctx, "tasks", task.ID, task); err != nil {
		t.Fatalf("seeding task: %v", err)
	}

	agent, err := h.RegisterAgent(ctx, "", "contributor", "worker-1", []string{"go"})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	tc, l, err := h.RequestNextTask(ctx, agent.ID)
	if err != nil {
		t.Fatalf("RequestNextTask: %v", err)
	}
	if tc.Task.ID != "task1" {
		t.Fatalf("want task1 assigned, got %s", tc.Task.ID)
	}

	if err := h.ReportTaskProgress(ctx, agent.ID, l.ID, true, &kanban.Outcome{Success: true}); err != nil {
		t.Fatalf("ReportTaskProgress: %v", err)
	}

	var done kanban.Task
	if err := h.Store.Get(ctx, "tasks", "task1", &done); err != nil {
		t.Fatalf("loading completed task: %v", err)
	}
	if done.Status != kanban.StatusDone {
		t.Fatalf("want task done, got %s", done.Status)
	}

	if rate := h.Learner.SuccessRate(agent.ID); rate != 1 {
		t.Fatalf("want success rate 1 after one successful outcome, got %f", rate)
	}
}

// TestRegisterAgentRejectsDuplicateID verifies spec.md §4.13's
// register_agent error table: a repeated agent_id is AlreadyRegistered,
// not a silent upsert.
func TestRegisterAgentRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	h := newTestHandlers(t)

	if _, err := h.RegisterAgent(ctx, "agent1", "contributor", "worker-1", []string{"go"}); err != nil {
		t.Fatalf("first RegisterAgent: %v", err)
	}
	if _, err := h.RegisterAgent(ctx, "agent1", "contributor", "worker-1-again", []string{"go"}); !marcuserr.Is(err, marcuserr.KindAlreadyRegistered) {
		t.Fatalf("want AlreadyRegistered on duplicate agent_id, got %v", err)
	}
}

func TestLogDecisionAndArtifactSurfaceInContext(t *testing.T) {
	ctx := context.Background()
	h := newTestHandlers(t)

	project, err := h.CreateProject(ctx, "demo")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	task := kanban.Task{ID: "task1", ProjectID: project.ID, Status: kanban.StatusTodo}
	if err := h.Store.Put(ctx, "tasks", task.ID, task); err != nil {
		t.Fatalf("seeding task: %v", err)
	}

	if _, err := h.LogDecision(ctx, "agent1", "task1", "chose approach A", "simpler and faster"); err != nil {
		t.Fatalf("LogDecision: %v", err)
	}
	if _, err := h.LogArtifact(ctx, "agent1", "task1", kanban.Artifact{Kind: kanban.ArtifactKindReview, Summary: "looks good"}); err != nil {
		t.Fatalf("LogArtifact: %v", err)
	}

	tc, err := h.GetTaskContext(ctx, "task1")
	if err != nil {
		t.Fatalf("GetTaskContext: %v", err)
	}
	if len(tc.Decisions) != 1 || len(tc.Artifacts) != 1 {
		t.Fatalf("want 1 decision and 1 artifact in context, got %d/%d", len(tc.Decisions), len(tc.Artifacts))
	}
}

func TestReportBlockerTransitionsStatus(t *testing.T) {
	ctx := context.Background()
	h := newTestHandlers(t)

	project, _ := h.CreateProject(ctx, "demo")
	task := kanban.Task{ID: "task1", ProjectID: project.ID, Status: kanban.StatusTodo}
	h.Store.Put(ctx, "tasks", task.ID, task)

	agent, _ := h.RegisterAgent(ctx, "", "contributor", "worker-1", nil)
	_, l, err := h.RequestNextTask(ctx, agent.ID)
	if err != nil {
		t.Fatalf("RequestNextTask: %v", err)
	}

	if err := h.ReportBlocker(ctx, l.ID, "missing credentials"); err != nil {
		t.Fatalf("ReportBlocker: %v", err)
	}

	var got kanban.Task
	h.Store.Get(ctx, "tasks", "task1", &got)
	if got.Status != kanban.StatusBlocked {
		t.Fatalf("want task blocked, got %s", got.Status)
	}
}
