package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marcus-ai/marcus-core/kanban"
)

func TestPublishWaitForHandlersRunsSynchronously(t *testing.T) {
	b := New(nil, 10)
	var got kanban.Event
	b.Subscribe("task.done", func(_ context.Context, evt kanban.Event) {
		got = evt
	})

	b.Publish(context.Background(), kanban.Event{Topic: "task.done", Payload: "x"}, true)
	if got.Topic != "task.done" {
		t.Fatalf("expected handler to have run before Publish returned, got %+v", got)
	}
}

func TestPublishWildcardReceivesEveryTopic(t *testing.T) {
	b := New(nil, 10)
	var mu sync.Mutex
	seen := map[string]bool{}
	b.Subscribe("*", func(_ context.Context, evt kanban.Event) {
		mu.Lock()
		seen[evt.Topic] = true
		mu.Unlock()
	})

	b.Publish(context.Background(), kanban.Event{Topic: "a"}, true)
	b.Publish(context.Background(), kanban.Event{Topic: "b"}, true)

	mu.Lock()
	defer mu.Unlock()
	if !seen["a"] || !seen["b"] {
		t.Fatalf("wildcard subscriber missed a topic: %v", seen)
	}
}

func TestPublishHandlerPanicIsIsolated(t *testing.T) {
	b := New(nil, 10)
	b.Subscribe("x", func(_ context.Context, _ kanban.Event) {
		panic("boom")
	})
	done := make(chan struct{})
	b.Subscribe("x", func(_ context.Context, _ kanban.Event) {
		close(done)
	})

	b.Publish(context.Background(), kanban.Event{Topic: "x"}, true)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran; a panic in the first handler should not prevent it")
	}
}

func TestHistoryBoundedAndFilterable(t *testing.T) {
	b := New(nil, 2)
	b.Publish(context.Background(), kanban.Event{Topic: "a"}, true)
	b.Publish(context.Background(), kanban.Event{Topic: "b"}, true)
	b.Publish(context.Background(), kanban.Event{Topic: "a"}, true)

	all := b.History("", 0)
	if len(all) != 2 {
		t.Fatalf("want history bounded to cap 2, got %d", len(all))
	}

	onlyA := b.History("a", 0)
	for _, evt := range onlyA {
		if evt.Topic != "a" {
			t.Fatalf("filter leaked topic %s", evt.Topic)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil, 10)
	calls := 0
	unsubscribe := b.Subscribe("x", func(_ context.Context, _ kanban.Event) {
		calls++
	})
	unsubscribe()
	b.Publish(context.Background(), kanban.Event{Topic: "x"}, true)
	if calls != 0 {
		t.Fatalf("want 0 calls after unsubscribe, got %d", calls)
	}
}
