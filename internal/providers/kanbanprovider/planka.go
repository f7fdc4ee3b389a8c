package kanbanprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus-ai/marcus-core/kanban"
)

// Planka talks to a Planka board over its REST API, grounded on
// agents/api_spawner.go's net/http request/response handling shape.
type Planka struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewPlanka(baseURL, token string) *Planka {
	return &Planka{baseURL: baseURL, token: token, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (p *Planka) Name() string { return "planka" }

type plankaCard struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ListID      string `json:"listId"`
	UpdatedAt   string `json:"updatedAt"`
}

func (p *Planka) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling planka request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building planka request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling planka api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("planka api returned status %d for %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Planka) ListCards(ctx context.Context, boardID string) ([]RemoteCard, error) {
	var parsed struct {
		Items []plankaCard `json:"items"`
	}
	if err := p.do(ctx, http.MethodGet, "/api/boards/"+boardID+"/cards", nil, &parsed); err != nil {
		return nil, err
	}
	out := make([]RemoteCard, 0, len(parsed.Items))
	for _, c := range parsed.Items {
		out = append(out, RemoteCard{
			ExternalID:  c.ID,
			Title:       c.Name,
			Description: c.Description,
			Status:      listIDToStatus(c.ListID),
			UpdatedAt:   c.UpdatedAt,
		})
	}
	return out, nil
}

func (p *Planka) CreateCard(ctx context.Context, boardID string, card RemoteCard) (string, error) {
	var created plankaCard
	payload := map[string]string{"name": card.Title, "description": card.Description}
	if err := p.do(ctx, http.MethodPost, "/api/boards/"+boardID+"/cards", payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (p *Planka) UpdateCardStatus(ctx context.Context, _, externalID string, status kanban.TaskStatus) error {
	payload := map[string]string{"listId": statusToListID(status)}
	return p.do(ctx, http.MethodPatch, "/api/cards/"+externalID, payload, nil)
}

// listIDToStatus/statusToListID are intentionally simple placeholders:
// a real deployment configures the list-id-to-status mapping per board
// (spec.md leaves board layout to the operator), so this is a sensible
// default rather than a hardcoded protocol detail.
func listIDToStatus(listID string) kanban.TaskStatus {
	switch listID {
	case "done":
		return kanban.StatusDone
	case "in_progress":
		return kanban.StatusInProgress
	case "blocked":
		return kanban.StatusBlocked
	default:
		return kanban.StatusTodo
	}
}

func statusToListID(status kanban.TaskStatus) string {
	return string(status)
}
