// Package bus implements C2, Marcus's in-process event bus: wildcard
// pub/sub over a bounded history ring buffer, grounded on the teacher's
// per-agent error-isolation discipline in background.go's
// BackgroundAgentManager.executeAgentCycle (one failing handler never
// takes down another) and on orchestrator.go's synchronous
// cycle-then-save sequencing for the case callers need handlers to have
// run before Publish returns.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-ai/marcus-core/kanban"
)

// Handler receives a published event. It must not block indefinitely;
// Publish with waitForHandlers=false runs each handler on its own
// goroutine and recovers panics, logging and discarding them.
type Handler func(ctx context.Context, evt kanban.Event)

// Bus is safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler // topic -> handlers; "*" is the wildcard bucket
	history     []kanban.Event
	historyCap  int
	logger      *slog.Logger
}

// New creates a Bus with the given bounded history size (spec.md §4.2
// default is 1000).
func New(logger *slog.Logger, historyCap int) *Bus {
	if historyCap <= 0 {
		historyCap = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]Handler),
		historyCap:  historyCap,
		logger:      logger,
	}
}

// Subscribe registers handler for topic, or every topic when topic is
// "*". Returns an unsubscribe function.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[topic] = append(b.subscribers[topic], h)
	idx := len(b.subscribers[topic]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subscribers[topic]
		if idx >= len(handlers) {
			return
		}
		b.subscribers[topic] = append(handlers[:idx], handlers[idx+1:]...)
	}
}

// Publish appends evt to history and dispatches it to every matching
// handler. When waitForHandlers is true, handlers run synchronously on
// the caller's goroutine, the topic's handlers first and then the "*"
// handlers, each group in subscription order (matching
// orchestrator.go's single-mutex cycle-then-save sequencing); otherwise
// each handler runs on its own goroutine, panics recovered and logged.
func (b *Bus) Publish(ctx context.Context, evt kanban.Event, waitForHandlers bool) kanban.Event {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, evt)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	handlers := append([]Handler{}, b.subscribers[evt.Topic]...)
	handlers = append(handlers, b.subscribers["*"]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if waitForHandlers {
			b.runSafely(ctx, h, evt)
		} else {
			go b.runSafely(ctx, h, evt)
		}
	}
	return evt
}

func (b *Bus) runSafely(ctx context.Context, h Handler, evt kanban.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "topic", evt.Topic, "event_id", evt.ID, "recover", r)
		}
	}()
	h(ctx, evt)
}

// History returns up to limit most recent events, optionally filtered by
// topic ("" means all topics).
func (b *Bus) History(topic string, limit int) []kanban.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []kanban.Event
	for i := len(b.history) - 1; i >= 0; i-- {
		evt := b.history[i]
		if topic != "" && evt.Topic != topic {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
