package memory

import (
	"context"
	"testing"
	"time"

	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

func TestSuccessRateNeutralWithNoHistory(t *testing.T) {
	s, _ := store.NewFileStore(t.TempDir())
	l := New(s)
	if rate := l.SuccessRate("agent1"); rate != 0.5 {
		t.Fatalf("want neutral 0.5 default, got %f", rate)
	}
}

func TestRecordUpdatesSuccessRateAndAverageDuration(t *testing.T) {
	ctx := context.Background()
	s, _ := store.NewFileStore(t.TempDir())
	l := New(s)

	if err := l.Record(ctx, kanban.Outcome{AgentID: "agent1", Success: true, Duration: 10 * time.Minute}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(ctx, kanban.Outcome{AgentID: "agent1", Success: false, Duration: 20 * time.Minute}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if rate := l.SuccessRate("agent1"); rate != 0.5 {
		t.Fatalf("want 1 success of 2 = 0.5, got %f", rate)
	}
	if avg := l.AverageDuration("agent1"); avg != 15*time.Minute {
		t.Fatalf("want average duration 15m, got %s", avg)
	}
}

func TestLoadRebuildsAggregateFromPersistedOutcomes(t *testing.T) {
	ctx := context.Background()
	s, _ := store.NewFileStore(t.TempDir())

	seed := New(s)
	seed.Record(ctx, kanban.Outcome{ID: "o1", ProjectID: "p1", AgentID: "agent1", Success: true, Duration: time.Minute})
	seed.Record(ctx, kanban.Outcome{ID: "o2", ProjectID: "p1", AgentID: "agent1", Success: true, Duration: time.Minute})
	seed.Record(ctx, kanban.Outcome{ID: "o3", ProjectID: "other", AgentID: "agent1", Success: false, Duration: time.Hour})

	fresh := New(s)
	if err := fresh.Load(ctx, "p1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rate := fresh.SuccessRate("agent1"); rate != 1 {
		t.Fatalf("want rate 1 restricted to project p1's two successes, got %f", rate)
	}
}
