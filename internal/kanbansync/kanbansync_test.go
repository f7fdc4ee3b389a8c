package kanbansync

import (
	"context"
	"errors"
	"testing"

	"github.com/marcus-ai/marcus-core/internal/providers/kanbanprovider"
	"github.com/marcus-ai/marcus-core/internal/registry"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

func TestDiscoverProjectsCreatesLocalTasksForNewCards(t *testing.T) {
	ctx := context.Background()
	s, _ := store.NewFileStore(t.TempDir())
	provider := kanbanprovider.NewFake()
	provider.CreateCard(ctx, "board1", kanbanprovider.RemoteCard{Title: "card one", Status: kanban.StatusTodo})

	c := New(s, provider, nil, nil)
	created, err := c.DiscoverProjects(ctx, "p1", "board1", false)
	if err != nil {
		t.Fatalf("DiscoverProjects: %v", err)
	}
	if created != 1 {
		t.Fatalf("want 1 task created, got %d", created)
	}

	// Running it again should not duplicate the task.
	created, err = c.DiscoverProjects(ctx, "p1", "board1", false)
	if err != nil {
		t.Fatalf("DiscoverProjects (second run): %v", err)
	}
	if created != 0 {
		t.Fatalf("want 0 new tasks on second discovery, got %d", created)
	}
}

// TestDiscoverProjectsPreservesActiveProject verifies spec.md §4.12 /
// testable property 7 / scenario S4: a preserve_active=true sync never
// leaves a different project active than when it started, as long as
// the original active project still exists.
func TestDiscoverProjectsPreservesActiveProject(t *testing.T) {
	ctx := context.Background()
	s, _ := store.NewFileStore(t.TempDir())
	reg, err := registry.New(ctx, s)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	p1, err := reg.Create(ctx, "p1")
	if err != nil {
		t.Fatalf("Create p1: %v", err)
	}
	p2, err := reg.Create(ctx, "p2")
	if err != nil {
		t.Fatalf("Create p2: %v", err)
	}
	// p2 is active post-creation; select p1 as the project under test.
	if err := reg.SelectProject(ctx, p1.ID); err != nil {
		t.Fatalf("SelectProject(p1): %v", err)
	}

	provider := kanbanprovider.NewFake()
	provider.CreateCard(ctx, "board1", kanbanprovider.RemoteCard{Title: "card one", Status: kanban.StatusTodo})
	c := New(s, provider, reg, nil)

	if _, err := c.DiscoverProjects(ctx, p2.ID, "board1", true); err != nil {
		t.Fatalf("DiscoverProjects: %v", err)
	}
	if reg.Active() != p1.ID {
		t.Fatalf("want active project restored to %s, got %s", p1.ID, reg.Active())
	}
}

// TestDiscoverProjectsActivatesFirstProjectWhenNoneActive verifies the
// no-active -> active transition spec.md §4.12 requires on first-ever
// project.
func TestDiscoverProjectsActivatesFirstProjectWhenNoneActive(t *testing.T) {
	ctx := context.Background()
	s, _ := store.NewFileStore(t.TempDir())
	reg, err := registry.New(ctx, s)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if err := reg.AddProject(ctx, kanban.NewProject("p1", "p1")); err != nil {
		t.Fatalf("AddProject: %v", err)
	}

	provider := kanbanprovider.NewFake()
	c := New(s, provider, reg, nil)

	if _, err := c.DiscoverProjects(ctx, "p1", "board1", false); err != nil {
		t.Fatalf("DiscoverProjects: %v", err)
	}
	if reg.Active() != "p1" {
		t.Fatalf("want p1 activated as the first-ever project, got %s", reg.Active())
	}
}

type pushTrackingProvider struct {
	kanbanprovider.Fake
	pushed map[string]kanban.TaskStatus
	fail   bool
}

func newPushTrackingProvider() *pushTrackingProvider {
	return &pushTrackingProvider{pushed: make(map[string]kanban.TaskStatus)}
}

func (p *pushTrackingProvider) UpdateCardStatus(_ context.Context, _, externalID string, status kanban.TaskStatus) error {
	if p.fail {
		return errors.New("remote unavailable")
	}
	p.pushed[externalID] = status
	return nil
}

func TestRefreshTasksOnlyPushesSyncedTasks(t *testing.T) {
	ctx := context.Background()
	s, _ := store.NewFileStore(t.TempDir())
	provider := newPushTrackingProvider()
	c := New(s, provider, nil, nil)

	s.Put(ctx, "tasks", "synced1", kanban.Task{
		ID: "synced1", ProjectID: "p1", Status: kanban.StatusDone, Labels: []string{"synced:fake"},
	})
	s.Put(ctx, "tasks", "local1", kanban.Task{
		ID: "local1", ProjectID: "p1", Status: kanban.StatusDone,
	})

	pushed, err := c.RefreshTasks(ctx, "p1", "board1")
	if err != nil {
		t.Fatalf("RefreshTasks: %v", err)
	}
	if pushed != 1 {
		t.Fatalf("want only the synced task pushed, got %d", pushed)
	}
	if provider.pushed["synced1"] != kanban.StatusDone {
		t.Fatalf("want synced1 pushed as done, got %v", provider.pushed)
	}
	if _, ok := provider.pushed["local1"]; ok {
		t.Fatal("local1 has no synced label and should not have been pushed")
	}
}

func TestRetryableErrorDoublesBackoffUpToMax(t *testing.T) {
	s, _ := store.NewFileStore(t.TempDir())
	c := New(s, kanbanprovider.NewFake(), nil, nil)

	c.retryableError("board1", errors.New("boom"))
	if got := c.NextBackoff("board1"); got != initialBackoff {
		t.Fatalf("want initial backoff %s, got %s", initialBackoff, got)
	}
	c.retryableError("board1", errors.New("boom"))
	if got := c.NextBackoff("board1"); got != initialBackoff*2 {
		t.Fatalf("want doubled backoff %s, got %s", initialBackoff*2, got)
	}
	for i := 0; i < 20; i++ {
		c.retryableError("board1", errors.New("boom"))
	}
	if got := c.NextBackoff("board1"); got != maxBackoff {
		t.Fatalf("want backoff capped at %s, got %s", maxBackoff, got)
	}
}
