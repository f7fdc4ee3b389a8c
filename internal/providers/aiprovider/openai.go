package aiprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus-ai/marcus-core/kanban"
)

// OpenAI calls the Chat Completions API over net/http, sharing
// Anthropic's call()/Decompose JSON-extraction idiom since both
// providers speak "post a prompt, get back one JSON blob".
type OpenAI struct {
	BaseProvider
	apiKey     string
	model      string
	httpClient *http.Client
	baseURL    string
}

const defaultOpenAIModel = "gpt-4o"

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    "https://api.openai.com/v1/chat/completions",
	}
}

func (o *OpenAI) Name() string    { return "openai" }
func (o *OpenAI) Available() bool { return o.apiKey != "" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) call(ctx context.Context, prompt string) (string, error) {
	if !o.Available() {
		return "", ErrProviderNotAvailable
	}

	reqBody, err := json.Marshal(openAIRequest{
		Model:    o.model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("building openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling openai api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai api returned status %d", resp.StatusCode)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding openai response: %w", err)
	}
	o.TrackUsage(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (o *OpenAI) InferDependencies(ctx context.Context, x, y kanban.Task) (bool, float64, error) {
	prompt := fmt.Sprintf(
		"Task A: %s — %s\nTask B: %s — %s\nDoes Task B depend on Task A being completed first? Reply with exactly: depends=true|false confidence=0.0-1.0",
		x.Title, x.Description, y.Title, y.Description)
	text, err := o.call(ctx, prompt)
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

func (o *OpenAI) Decompose(ctx context.Context, task kanban.Task) (kanban.DecompositionResult, error) {
	prompt := fmt.Sprintf("Decompose this task into 3-6 ordered subtasks. Reply with exactly one JSON object "+
		"{\"subtasks\":[{\"name\",\"description\",\"estimated_hours\",\"dependencies\",\"file_artifacts\",\"provides\",\"requires\",\"order\"}],"+
		"\"shared_conventions\":{\"base_path\":...,\"response_format\":...,\"naming_convention\":...}}:\n\n%s\n\n%s", task.Title, task.Description)
	text, err := o.call(ctx, prompt)
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

func (o *OpenAI) GenerateInstructions(ctx context.Context, tc kanban.TaskContext) (string, error) {
	title := tc.Task.Title
	if tc.Subtask != nil {
		title = tc.Subtask.Title
	}
	prompt := fmt.Sprintf("Write concise, actionable markdown instructions for an autonomous coding agent to complete: %s", title)
	return o.call(ctx, prompt)
}
