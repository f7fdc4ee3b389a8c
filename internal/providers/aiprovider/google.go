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

// Google calls the Gemini generateContent API over net/http, sharing
// Anthropic's single-prompt/single-JSON-response idiom.
type Google struct {
	BaseProvider
	apiKey     string
	model      string
	httpClient *http.Client
	baseURL    string
}

const defaultGoogleModel = "gemini-1.5-pro"

func NewGoogle(apiKey, model string) *Google {
	if model == "" {
		model = defaultGoogleModel
	}
	return &Google{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    "https://generativelanguage.googleapis.com/v1beta/models",
	}
}

func (g *Google) Name() string    { return "google" }
func (g *Google) Available() bool { return g.apiKey != "" }

type googleRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (g *Google) call(ctx context.Context, prompt string) (string, error) {
	if !g.Available() {
		return "", ErrProviderNotAvailable
	}

	var reqPayload googleRequest
	reqPayload.Contents = []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}{{Parts: []struct {
		Text string `json:"text"`
	}{{Text: prompt}}}}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("marshaling google request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("building google request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling google api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("google api returned status %d", resp.StatusCode)
	}

	var parsed googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding google response: %w", err)
	}
	g.TrackUsage(parsed.UsageMetadata.PromptTokenCount, parsed.UsageMetadata.CandidatesTokenCount)

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("google response had no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func (g *Google) InferDependencies(ctx context.Context, x, y kanban.Task) (bool, float64, error) {
	prompt := fmt.Sprintf(
		"Task A: %s — %s\nTask B: %s — %s\nDoes Task B depend on Task A being completed first? Reply with exactly: depends=true|false confidence=0.0-1.0",
		x.Title, x.Description, y.Title, y.Description)
	text, err := g.call(ctx, prompt)
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

func (g *Google) Decompose(ctx context.Context, task kanban.Task) (kanban.DecompositionResult, error) {
	prompt := fmt.Sprintf("Decompose this task into 3-6 ordered subtasks. Reply with exactly one JSON object "+
		"{\"subtasks\":[{\"name\",\"description\",\"estimated_hours\",\"dependencies\",\"file_artifacts\",\"provides\",\"requires\",\"order\"}],"+
		"\"shared_conventions\":{\"base_path\":...,\"response_format\":...,\"naming_convention\":...}}:\n\n%s\n\n%s", task.Title, task.Description)
	text, err := g.call(ctx, prompt)
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

func (g *Google) GenerateInstructions(ctx context.Context, tc kanban.TaskContext) (string, error) {
	title := tc.Task.Title
	if tc.Subtask != nil {
		title = tc.Subtask.Title
	}
	prompt := fmt.Sprintf("Write concise, actionable markdown instructions for an autonomous coding agent to complete: %s", title)
	return g.call(ctx, prompt)
}
