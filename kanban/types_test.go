package kanban

import (
	"testing"
	"time"
)

func TestSortTasksByPriority(t *testing.T) {
	now := time.Now()
	tasks := []Task{
		{ID: "a", Priority: PriorityLow, CreatedAt: now},
		{ID: "b", Priority: PriorityUrgent, CreatedAt: now.Add(time.Second)},
		{ID: "c", Priority: PriorityUrgent, CreatedAt: now},
		{ID: "d", Priority: PriorityMedium, CreatedAt: now},
	}
	SortTasksByPriority(tasks)

	want := []string{"c", "b", "d", "a"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, tasks[i].ID)
		}
	}
}

func TestSortSubtasksByOrder(t *testing.T) {
	subtasks := []Subtask{
		{ID: "x", Order: 2, Priority: PriorityLow},
		{ID: "y", Order: 1, Priority: PriorityHigh},
		{ID: "z", Order: 1, Priority: PriorityUrgent},
	}
	SortSubtasksByOrder(subtasks)

	want := []string{"z", "y", "x"}
	for i, id := range want {
		if subtasks[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, subtasks[i].ID)
		}
	}
}

func TestDefaultProjectConfigNonZero(t *testing.T) {
	cfg := DefaultProjectConfig()
	if cfg.MaxParallelAgents == 0 || cfg.LeaseTTL == 0 || cfg.MaxContextDepth == 0 {
		t.Fatalf("DefaultProjectConfig left zero values: %+v", cfg)
	}
}
