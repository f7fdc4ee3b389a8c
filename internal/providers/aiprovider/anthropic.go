package aiprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/marcus-ai/marcus-core/kanban"
)

// Anthropic calls the Claude Messages API directly over net/http,
// adapted from agents/anthropic/client.go and
// agents/provider/anthropic.go's request/response shapes, generalized
// from ticket-refinement prompts to Marcus's three AIProvider
// operations.
type Anthropic struct {
	BaseProvider
	apiKey     string
	model      string
	httpClient *http.Client
	baseURL    string
}

const defaultAnthropicModel = "claude-sonnet-4-5"

func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Anthropic{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    "https://api.anthropic.com/v1/messages",
	}
}

func (a *Anthropic) Name() string    { return "anthropic" }
func (a *Anthropic) Available() bool { return a.apiKey != "" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Anthropic) call(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if !a.Available() {
		return "", ErrProviderNotAvailable
	}

	reqBody, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("building anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling anthropic api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic api returned status %d", resp.StatusCode)
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding anthropic response: %w", err)
	}
	a.TrackUsage(parsed.Usage.InputTokens, parsed.Usage.OutputTokens)

	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("anthropic response had no content")
	}
	return parsed.Content[0].Text, nil
}

var yesNoConfidence = regexp.MustCompile(`(?i)depends\s*[:=]\s*(true|false).*confidence\s*[:=]\s*([0-9.]+)`)

func (a *Anthropic) InferDependencies(ctx context.Context, x, y kanban.Task) (bool, float64, error) {
	prompt := fmt.Sprintf(
		"Task A: %s — %s\nTask B: %s — %s\nDoes Task B depend on Task A being completed first? Reply with exactly: depends=true|false confidence=0.0-1.0",
		x.Title, x.Description, y.Title, y.Description)
	text, err := a.call(ctx, prompt, 64)
	if err != nil {
		return false, 0, err
	}
	m := yesNoConfidence.FindStringSubmatch(text)
	if m == nil {
		return false, 0, nil
	}
	depends := m[1] == "true"
	var confidence float64
	fmt.Sscanf(m[2], "%f", &confidence)
	return depends, confidence, nil
}

// decomposeResponse matches the fixed output schema spec.md §4.7
// requests: subtasks with name, description, estimated_hours,
// dependencies, file_artifacts, provides, requires, order, plus the
// shared_conventions extracted from the same response.
type decomposeResponse struct {
	Subtasks []struct {
		Name           string   `json:"name"`
		Description    string   `json:"description"`
		EstimatedHours float64  `json:"estimated_hours"`
		Dependencies   []string `json:"dependencies"`
		FileArtifacts  []string `json:"file_artifacts"`
		Provides       string   `json:"provides"`
		Requires       string   `json:"requires"`
		Order          int      `json:"order"`
	} `json:"subtasks"`
	SharedConventions map[string]string `json:"shared_conventions"`
}

func (a *Anthropic) Decompose(ctx context.Context, task kanban.Task) (kanban.DecompositionResult, error) {
	prompt := fmt.Sprintf("Decompose this task into 3-6 ordered subtasks. Reply with exactly one JSON object "+
		"{\"subtasks\":[{\"name\",\"description\",\"estimated_hours\",\"dependencies\",\"file_artifacts\",\"provides\",\"requires\",\"order\"}],"+
		"\"shared_conventions\":{\"base_path\":...,\"response_format\":...,\"naming_convention\":...}}:\n\n%s\n\n%s", task.Title, task.Description)
	text, err := a.call(ctx, prompt, 1536)
	if err != nil {
		return kanban.DecompositionResult{}, err
	}
	var raw decomposeResponse
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &raw); err != nil {
		return kanban.DecompositionResult{}, fmt.Errorf("parsing decomposition response: %w", err)
	}
	out := make([]kanban.Subtask, 0, len(raw.Subtasks))
	for _, r := range raw.Subtasks {
		out = append(out, kanban.Subtask{
			Title:          r.Name,
			Description:    r.Description,
			EstimatedHours: r.EstimatedHours,
			Dependencies:   r.Dependencies,
			FileArtifacts:  r.FileArtifacts,
			Provides:       r.Provides,
			Requires:       r.Requires,
			Order:          r.Order,
			Priority:       task.Priority,
		})
	}
	return kanban.DecompositionResult{Subtasks: out, SharedConventions: raw.SharedConventions}, nil
}

func (a *Anthropic) GenerateInstructions(ctx context.Context, tc kanban.TaskContext) (string, error) {
	title := tc.Task.Title
	if tc.Subtask != nil {
		title = tc.Subtask.Title
	}
	prompt := fmt.Sprintf("Write concise, actionable markdown instructions for an autonomous coding agent to complete: %s", title)
	return a.call(ctx, prompt, 512)
}

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// extractJSONArray pulls the first fenced or bare JSON array out of a
// markdown-formatted LLM response, the same regex-extraction idiom as
// orchestrator.go's parseSignoffReport.
func extractJSONArray(text string) string {
	if m := jsonArrayPattern.FindString(text); m != "" {
		return m
	}
	return "[]"
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSONObject is extractJSONArray's counterpart for responses
// shaped as a single JSON object rather than an array.
func extractJSONObject(text string) string {
	if m := jsonObjectPattern.FindString(text); m != "" {
		return m
	}
	return "{}"
}
