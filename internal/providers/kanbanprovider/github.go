package kanbanprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/marcus-ai/marcus-core/kanban"
)

// GitHub talks to a repository's Issues as the remote board, grounded on
// Planka's do()/ListCards/CreateCard/UpdateCardStatus shape: boardID here
// is "owner/repo" and a card is one issue, with status carried in labels
// (since the REST Issues API has no first-class column/list concept).
type GitHub struct {
	token      string
	httpClient *http.Client
	apiBase    string
}

func NewGitHub(token string) *GitHub {
	return &GitHub{
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    "https://api.github.com",
	}
}

func (g *GitHub) Name() string { return "github" }

type githubIssue struct {
	Number    int           `json:"number"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	State     string        `json:"state"`
	UpdatedAt string        `json:"updated_at"`
	Labels    []githubLabel `json:"labels"`
}

type githubLabel struct {
	Name string `json:"name"`
}

func (g *GitHub) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling github request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("building github request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling github api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("github api returned status %d for %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (g *GitHub) ListCards(ctx context.Context, boardID string) ([]RemoteCard, error) {
	var issues []githubIssue
	if err := g.do(ctx, http.MethodGet, "/repos/"+boardID+"/issues?state=all", nil, &issues); err != nil {
		return nil, err
	}
	out := make([]RemoteCard, 0, len(issues))
	for _, iss := range issues {
		out = append(out, RemoteCard{
			ExternalID:  strconv.Itoa(iss.Number),
			Title:       iss.Title,
			Description: iss.Body,
			Status:      githubStateToStatus(iss),
			UpdatedAt:   iss.UpdatedAt,
		})
	}
	return out, nil
}

func (g *GitHub) CreateCard(ctx context.Context, boardID string, card RemoteCard) (string, error) {
	var created githubIssue
	payload := map[string]any{
		"title":  card.Title,
		"body":   card.Description,
		"labels": []string{statusToGitHubLabel(card.Status)},
	}
	if err := g.do(ctx, http.MethodPost, "/repos/"+boardID+"/issues", payload, &created); err != nil {
		return "", err
	}
	return strconv.Itoa(created.Number), nil
}

// UpdateCardStatus pushes status as a github label and, for done, also
// closes the issue: GitHub Issues has no native "in progress"/"todo"
// states beyond open/closed, so labels carry the finer-grained status.
func (g *GitHub) UpdateCardStatus(ctx context.Context, boardID, externalID string, status kanban.TaskStatus) error {
	payload := map[string]any{"labels": []string{statusToGitHubLabel(status)}}
	if status == kanban.StatusDone {
		payload["state"] = "closed"
	}
	return g.do(ctx, http.MethodPatch, "/repos/"+boardID+"/issues/"+externalID, payload, nil)
}

func githubStateToStatus(iss githubIssue) kanban.TaskStatus {
	if iss.State == "closed" {
		return kanban.StatusDone
	}
	for _, l := range iss.Labels {
		switch l.Name {
		case "in_progress":
			return kanban.StatusInProgress
		case "blocked":
			return kanban.StatusBlocked
		}
	}
	return kanban.StatusTodo
}

func statusToGitHubLabel(status kanban.TaskStatus) string {
	return string(status)
}
