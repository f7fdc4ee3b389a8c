// Package kanbanprovider defines Marcus's KanbanProvider capability:
// the external board Marcus's C12 Kanban Sync Controller reconciles
// local task state against. No teacher file syncs against an external
// Kanban system (the teacher's kanban package IS the local board), so
// this interface's net/http call shape is grounded on
// agents/api_spawner.go's use of net/http to call an external API.
package kanbanprovider

import (
	"context"

	"github.com/marcus-ai/marcus-core/kanban"
)

// RemoteCard is the provider-agnostic shape a board's cards/issues are
// mapped to and from.
type RemoteCard struct {
	ExternalID  string
	Title       string
	Description string
	Status      kanban.TaskStatus
	UpdatedAt   string // RFC3339 last-modified time as reported by the provider; the sync controller does not read it
}

// Provider is implemented by each concrete Kanban backend.
type Provider interface {
	Name() string
	ListCards(ctx context.Context, boardID string) ([]RemoteCard, error)
	CreateCard(ctx context.Context, boardID string, card RemoteCard) (externalID string, err error)
	UpdateCardStatus(ctx context.Context, boardID, externalID string, status kanban.TaskStatus) error
}
