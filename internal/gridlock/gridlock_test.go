package gridlock

import (
	"testing"
	"time"

	"github.com/marcus-ai/marcus-core/kanban"
)

func TestEvaluateRequiresFullWindowAndAllBlocked(t *testing.T) {
	d := New()
	tasks := []kanban.Task{{ID: "t1", Status: kanban.StatusBlocked}}

	for i := 0; i < 2; i++ {
		d.RecordRefusal("p1")
		if locked, _ := d.Evaluate("p1", tasks, 3, time.Minute); locked {
			t.Fatalf("should not be gridlocked before window fills (refusal %d)", i+1)
		}
	}
	d.RecordRefusal("p1")
	locked, reason := d.Evaluate("p1", tasks, 3, time.Minute)
	if !locked || reason == "" {
		t.Fatalf("expected gridlock once window filled and all tasks blocked")
	}
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	d := New()
	tasks := []kanban.Task{{ID: "t1", Status: kanban.StatusBlocked}}
	for i := 0; i < 3; i++ {
		d.RecordRefusal("p1")
	}
	if locked, _ := d.Evaluate("p1", tasks, 3, time.Hour); !locked {
		t.Fatal("expected first evaluation to trigger")
	}
	if locked, _ := d.Evaluate("p1", tasks, 3, time.Hour); locked {
		t.Fatal("expected cooldown to suppress the second alert")
	}
}

func TestRecordProgressResetsWindow(t *testing.T) {
	d := New()
	tasks := []kanban.Task{{ID: "t1", Status: kanban.StatusBlocked}}
	for i := 0; i < 3; i++ {
		d.RecordRefusal("p1")
	}
	d.RecordProgress("p1")
	if locked, _ := d.Evaluate("p1", tasks, 3, time.Minute); locked {
		t.Fatal("progress should reset the refusal window")
	}
}

func TestEvaluateFalseWhenNotAllTasksBlocked(t *testing.T) {
	d := New()
	tasks := []kanban.Task{{ID: "t1", Status: kanban.StatusBlocked}, {ID: "t2", Status: kanban.StatusTodo}}
	for i := 0; i < 3; i++ {
		d.RecordRefusal("p1")
	}
	if locked, _ := d.Evaluate("p1", tasks, 3, time.Minute); locked {
		t.Fatal("should not be gridlocked while a non-blocked task remains")
	}
}
