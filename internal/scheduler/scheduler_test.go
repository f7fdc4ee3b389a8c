package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/marcus-ai/marcus-core/internal/lease"
	"github.com/marcus-ai/marcus-core/internal/memory"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

func setup(t *testing.T) (store.Store, *Engine) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	leaseMgr := lease.New(s, nil, nil)
	learner := memory.New(s)
	return s, New(s, leaseMgr, learner)
}

func TestRequestNextTaskSkipsUnmetDependencies(t *testing.T) {
	ctx := context.Background()
	s, eng := setup(t)

	blocked := kanban.Task{ID: "t1", ProjectID: "p1", Status: kanban.StatusTodo, Priority: kanban.PriorityHigh, Dependencies: []string{"t2"}}
	dependency := kanban.Task{ID: "t2", ProjectID: "p1", Status: kanban.StatusTodo, Priority: kanban.PriorityLow}
	s.Put(ctx, "tasks", blocked.ID, blocked)
	s.Put(ctx, "tasks", dependency.ID, dependency)

	cfg := kanban.DefaultProjectConfig()
	agent := kanban.AgentProfile{ID: "agent1"}

	tc, _, err := eng.RequestNextTask(ctx, "p1", agent, cfg)
	if err != nil {
		t.Fatalf("RequestNextTask: %v", err)
	}
	if tc.Task.ID != "t2" {
		t.Fatalf("want dependency t2 assigned first, got %s", tc.Task.ID)
	}
}

// TestRequestNextTaskSkillMismatchIsSoft verifies spec.md §4.9 step 5: a
// skill mismatch demotes a candidate's score rather than dropping it —
// with nothing else available, the agent still gets the task.
func TestRequestNextTaskSkillMismatchIsSoft(t *testing.T) {
	ctx := context.Background()
	s, eng := setup(t)

	needsSkill := kanban.Task{ID: "t1", ProjectID: "p1", Status: kanban.StatusTodo, RequiredSkills: []string{"rust"}}
	s.Put(ctx, "tasks", needsSkill.ID, needsSkill)

	cfg := kanban.DefaultProjectConfig()
	agent := kanban.AgentProfile{ID: "agent1", Skills: []string{"go"}}

	tc, _, err := eng.RequestNextTask(ctx, "p1", agent, cfg)
	if err != nil {
		t.Fatalf("want the mismatched-skill task assigned anyway (soft filter), got error: %v", err)
	}
	if tc.Task.ID != "t1" {
		t.Fatalf("want t1 assigned, got %s", tc.Task.ID)
	}
}

// TestRequestNextTaskPrefersSkillMatch verifies the demotion actually
// changes ranking when a skill-matching alternative exists.
func TestRequestNextTaskPrefersSkillMatch(t *testing.T) {
	ctx := context.Background()
	s, eng := setup(t)

	mismatched := kanban.Task{ID: "t1", ProjectID: "p1", Status: kanban.StatusTodo, RequiredSkills: []string{"rust"}, Priority: kanban.PriorityHigh}
	matched := kanban.Task{ID: "t2", ProjectID: "p1", Status: kanban.StatusTodo, RequiredSkills: []string{"go"}, Priority: kanban.PriorityLow}
	s.Put(ctx, "tasks", mismatched.ID, mismatched)
	s.Put(ctx, "tasks", matched.ID, matched)

	cfg := kanban.DefaultProjectConfig()
	agent := kanban.AgentProfile{ID: "agent1", Skills: []string{"go"}}

	tc, _, err := eng.RequestNextTask(ctx, "p1", agent, cfg)
	if err != nil {
		t.Fatalf("RequestNextTask: %v", err)
	}
	if tc.Task.ID != "t2" {
		t.Fatalf("want the skill-matching low-priority task preferred over the higher-priority mismatch, got %s", tc.Task.ID)
	}
}

// TestRequestNextTaskRefusesOverCapacity verifies spec.md §4.9 step 1 and
// §9's Open-Question resolution: pull is refused when active leases >=
// capacity.
func TestRequestNextTaskRefusesOverCapacity(t *testing.T) {
	ctx := context.Background()
	s, eng := setup(t)

	task := kanban.Task{ID: "t1", ProjectID: "p1", Status: kanban.StatusTodo}
	s.Put(ctx, "tasks", task.ID, task)

	cfg := kanban.DefaultProjectConfig()
	agent := kanban.AgentProfile{ID: "agent1", Capacity: 1}

	if _, _, err := eng.RequestNextTask(ctx, "p1", agent, cfg); err != nil {
		t.Fatalf("first pull should succeed: %v", err)
	}

	second := kanban.Task{ID: "t2", ProjectID: "p1", Status: kanban.StatusTodo}
	s.Put(ctx, "tasks", second.ID, second)

	if _, _, err := eng.RequestNextTask(ctx, "p1", agent, cfg); err == nil {
		t.Fatal("want refusal once active leases reach capacity")
	}
}

// TestRequestNextTaskSafetyFilterDropsDestructiveForDisallowedRole
// verifies spec.md §4.9 step 4.
func TestRequestNextTaskSafetyFilterDropsDestructiveForDisallowedRole(t *testing.T) {
	ctx := context.Background()
	s, eng := setup(t)

	destructive := kanban.Task{ID: "t1", ProjectID: "p1", Status: kanban.StatusTodo, Labels: []string{"destructive"}}
	s.Put(ctx, "tasks", destructive.ID, destructive)

	cfg := kanban.DefaultProjectConfig()
	agent := kanban.AgentProfile{ID: "agent1", Role: "contributor"}

	if _, _, err := eng.RequestNextTask(ctx, "p1", agent, cfg); err == nil {
		t.Fatal("want destructive-labeled task dropped for a role not on the allow list")
	}

	lead := kanban.AgentProfile{ID: "agent2", Role: "lead"}
	if _, _, err := eng.RequestNextTask(ctx, "p1", lead, cfg); err != nil {
		t.Fatalf("want a lead allowed to pull the destructive task: %v", err)
	}
}

func TestRequestNextTaskPrefersSubtasksOverTasks(t *testing.T) {
	ctx := context.Background()
	s, eng := setup(t)

	task := kanban.Task{ID: "t1", ProjectID: "p1", Status: kanban.StatusTodo}
	sub := kanban.Subtask{ID: "s1", ProjectID: "p1", ParentTaskID: "t1", Status: kanban.StatusTodo}
	s.Put(ctx, "tasks", task.ID, task)
	s.Put(ctx, "subtasks", sub.ID, sub)

	cfg := kanban.DefaultProjectConfig()
	agent := kanban.AgentProfile{ID: "agent1"}

	tc, l, err := eng.RequestNextTask(ctx, "p1", agent, cfg)
	if err != nil {
		t.Fatalf("RequestNextTask: %v", err)
	}
	if tc.Subtask == nil || tc.Subtask.ID != "s1" {
		t.Fatalf("want subtask s1 picked first, got %+v", tc)
	}
	if !l.IsSubtask {
		t.Fatalf("want lease marked IsSubtask")
	}
	if time.Until(l.ExpiresAt) <= 0 {
		t.Fatalf("want a future lease expiry")
	}
}
