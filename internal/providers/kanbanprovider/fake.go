package kanbanprovider

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/marcus-ai/marcus-core/kanban"
)

// Fake is an in-memory Provider for tests and zero-configuration runs.
type Fake struct {
	mu    sync.Mutex
	cards map[string]RemoteCard
}

func NewFake() *Fake { return &Fake{cards: make(map[string]RemoteCard)} }

func (f *Fake) Name() string { return "fake" }

func (f *Fake) ListCards(_ context.Context, _ string) ([]RemoteCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RemoteCard, 0, len(f.cards))
	for _, c := range f.cards {
		out = append(out, c)
	}
	return out, nil
}

func (f *Fake) CreateCard(_ context.Context, _ string, card RemoteCard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New().String()
	card.ExternalID = id
	f.cards[id] = card
	return id, nil
}

func (f *Fake) UpdateCardStatus(_ context.Context, _, externalID string, status kanban.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[externalID]
	if !ok {
		return nil
	}
	c.Status = status
	f.cards[externalID] = c
	return nil
}
