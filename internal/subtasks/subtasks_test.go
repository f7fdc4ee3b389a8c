package subtasks

import (
	"context"
	"testing"

	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

type stubAI struct{}

func (stubAI) Decompose(_ context.Context, task kanban.Task) (kanban.DecompositionResult, error) {
	return kanban.DecompositionResult{
		Subtasks: []kanban.Subtask{
			{Title: "design " + task.Title},
			{Title: "implement " + task.Title},
		},
		SharedConventions: map[string]string{"base_path": "internal/"},
	}, nil
}

func TestDecomposeAppendsIntegrationSubtask(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	mgr := New(s, stubAI{})

	task := kanban.Task{ID: "t1", ProjectID: "p1", Title: "build feature", Priority: kanban.PriorityHigh}
	subs, err := mgr.Decompose(ctx, task)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("want 2 produced subtasks + 1 integration, got %d", len(subs))
	}
	last := subs[len(subs)-1]
	if !last.IsIntegration || last.Order != integrationOrder {
		t.Fatalf("want last subtask to be the auto-generated integration checkpoint, got %+v", last)
	}
	if len(last.Dependencies) != 2 {
		t.Fatalf("want integration subtask to depend on both siblings, got %v", last.Dependencies)
	}

	meta, ok := mgr.Metadata(ctx, task.ID)
	if !ok {
		t.Fatal("want decomposition metadata persisted for the parent task")
	}
	if meta.SharedConventions["base_path"] != "internal/" {
		t.Fatalf("want shared_conventions carried through from the AI response, got %v", meta.SharedConventions)
	}
	if meta.DecomposedBy == "" {
		t.Fatal("want decomposed_by recorded")
	}

	var childIDs []string
	if err := s.Get(ctx, "parent_subtasks", task.ID, &childIDs); err != nil {
		t.Fatalf("loading parent_subtasks index: %v", err)
	}
	if len(childIDs) != 3 {
		t.Fatalf("want parent_subtasks index to list all 3 persisted subtasks, got %v", childIDs)
	}
}

func TestShouldDecomposeRequiresHoursVocabularyAndNonExcludedLabel(t *testing.T) {
	mgr := New(nil, nil)

	big := kanban.Task{
		EstimatedHours: 6,
		Description:    "Build the API, wire it to the database, and add a new model plus a UI form.",
	}
	if !mgr.ShouldDecompose(big) {
		t.Fatal("want a large multi-component task to qualify for decomposition")
	}

	short := big
	short.EstimatedHours = 2
	if mgr.ShouldDecompose(short) {
		t.Fatal("want a task under the hours threshold to be refused")
	}

	vague := kanban.Task{EstimatedHours: 8, Description: "Clean up some stuff."}
	if mgr.ShouldDecompose(vague) {
		t.Fatal("want a task mentioning fewer than 3 component indicators to be refused")
	}

	excluded := big
	excluded.Labels = []string{"bugfix"}
	if mgr.ShouldDecompose(excluded) {
		t.Fatal("want a bugfix-labeled task to be refused regardless of hours/vocabulary")
	}
}

func TestCheckRollupMarksParentDoneWhenAllSubtasksDone(t *testing.T) {
	ctx := context.Background()
	s, _ := store.NewFileStore(t.TempDir())
	mgr := New(s, nil)

	task := kanban.Task{ID: "t1", ProjectID: "p1", Status: kanban.StatusInProgress}
	s.Put(ctx, "tasks", task.ID, task)
	s.Put(ctx, "subtasks", "s1", kanban.Subtask{ID: "s1", ParentTaskID: "t1", Status: kanban.StatusDone})
	s.Put(ctx, "subtasks", "s2", kanban.Subtask{ID: "s2", ParentTaskID: "t1", Status: kanban.StatusTodo})

	rolledUp, err := mgr.CheckRollup(ctx, "t1")
	if err != nil {
		t.Fatalf("CheckRollup: %v", err)
	}
	if rolledUp {
		t.Fatalf("should not roll up while a sibling subtask is still todo")
	}

	s.Put(ctx, "subtasks", "s2", kanban.Subtask{ID: "s2", ParentTaskID: "t1", Status: kanban.StatusDone})
	rolledUp, err = mgr.CheckRollup(ctx, "t1")
	if err != nil {
		t.Fatalf("CheckRollup: %v", err)
	}
	if !rolledUp {
		t.Fatal("expected rollup once every subtask is done")
	}

	var got kanban.Task
	s.Get(ctx, "tasks", "t1", &got)
	if got.Status != kanban.StatusDone {
		t.Fatalf("want parent task done, got %s", got.Status)
	}
}
