// Package subtasks implements C7, the Subtask Manager & Decomposer:
// deciding whether a task should be split, calling out to an AI
// provider for the split, persisting the results, and rolling parent
// tasks up to done once every sibling subtask completes. Grounded on
// orchestrator.go's runDevAgent (call an external capability, persist
// the structured result, react) and on the parent/child completion
// checks in the teacher's SQLite store.
package subtasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-ai/marcus-core/internal/marcuserr"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

// AIProvider is the narrow decomposition capability this package needs.
type AIProvider interface {
	Decompose(ctx context.Context, task kanban.Task) (kanban.DecompositionResult, error)
}

const integrationOrder = 99
const minEstimatedHoursForDecomposition = 4
const minComponentIndicatorsForDecomposition = 3

// componentVocabulary is the indicator set spec.md §4.7 names ("api,
// database, model, ui, auth, …") a task description is scanned against.
var componentVocabulary = []string{
	"api", "database", "model", "ui", "auth", "frontend", "backend",
	"schema", "migration", "endpoint", "service", "integration", "cache",
	"queue", "worker", "dashboard", "report",
}

// exclusionLabels names labels that rule a task out of decomposition
// even when it otherwise meets the hours/vocabulary thresholds.
var exclusionLabels = map[string]bool{
	"bugfix":        true,
	"hotfix":        true,
	"refactor":      true,
	"deployment":    true,
	"documentation": true,
}

// Manager owns decomposition and rollup logic for one store.
type Manager struct {
	s        store.Store
	provider AIProvider
}

func New(s store.Store, provider AIProvider) *Manager {
	return &Manager{s: s, provider: provider}
}

// ShouldDecompose implements spec.md §4.7's literal rule: true iff
// estimated_hours >= 4 AND the description mentions at least 3 distinct
// component indicators AND the task is not labeled
// bugfix|hotfix|refactor|deployment|documentation.
func (m *Manager) ShouldDecompose(t kanban.Task) bool {
	if t.EstimatedHours < minEstimatedHoursForDecomposition {
		return false
	}
	for _, l := range t.Labels {
		if exclusionLabels[strings.ToLower(l)] {
			return false
		}
	}
	return countComponentIndicators(t.Description) >= minComponentIndicatorsForDecomposition
}

// countComponentIndicators counts how many distinct vocabulary terms
// appear in description, case-insensitively.
func countComponentIndicators(description string) int {
	lower := strings.ToLower(description)
	count := 0
	for _, term := range componentVocabulary {
		if strings.Contains(lower, term) {
			count++
		}
	}
	return count
}

// Decompose calls the AI provider to split task into subtasks, appends
// an auto-generated integration subtask ordered last, extracts shared
// conventions from the response, and persists the spec.md §6 subtask
// persistence structure: per-subtask rows, a parent->children index, and
// a metadata row recording shared_conventions/decomposed_at/decomposed_by.
func (m *Manager) Decompose(ctx context.Context, task kanban.Task) ([]kanban.Subtask, error) {
	if m.provider == nil {
		return nil, marcuserr.AIUnavailable("no AI provider configured for decomposition")
	}

	result, err := m.provider.Decompose(ctx, task)
	if err != nil {
		return nil, marcuserr.Wrap(marcuserr.KindAIUnavailable, "decomposition failed", err)
	}
	parts := result.Subtasks
	if len(parts) == 0 {
		return nil, marcuserr.Invalid("decomposition produced no subtasks")
	}

	now := time.Now()
	for i := range parts {
		parts[i].ID = uuid.New().String()
		parts[i].ProjectID = task.ProjectID
		parts[i].ParentTaskID = task.ID
		parts[i].Status = kanban.StatusTodo
		if parts[i].Priority == "" {
			parts[i].Priority = task.Priority
		}
		parts[i].Order = i
		parts[i].CreatedAt = now
		parts[i].UpdatedAt = now
	}

	integration := kanban.Subtask{
		ID:             uuid.New().String(),
		ProjectID:      task.ProjectID,
		ParentTaskID:   task.ID,
		Title:          fmt.Sprintf("Integrate: %s", task.Title),
		Description:    "Auto-generated integration checkpoint: verify all sibling subtasks compose correctly.",
		Status:         kanban.StatusTodo,
		Priority:       task.Priority,
		Order:          integrationOrder,
		IsIntegration:  true,
		EstimatedHours: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, p := range parts {
		integration.Dependencies = append(integration.Dependencies, p.ID)
	}
	parts = append(parts, integration)

	childIDs := make([]string, 0, len(parts))
	for _, sub := range parts {
		if err := m.s.Put(ctx, "subtasks", sub.ID, sub); err != nil {
			return nil, fmt.Errorf("persisting subtask %s: %w", sub.ID, err)
		}
		childIDs = append(childIDs, sub.ID)
	}
	if err := m.s.Put(ctx, "parent_subtasks", task.ID, childIDs); err != nil {
		return nil, fmt.Errorf("persisting parent->subtask index for %s: %w", task.ID, err)
	}
	meta := kanban.DecompositionMetadata{
		SharedConventions: result.SharedConventions,
		DecomposedAt:      now,
		DecomposedBy:      "ai",
	}
	if err := m.s.Put(ctx, "subtask_metadata", task.ID, meta); err != nil {
		return nil, fmt.Errorf("persisting decomposition metadata for %s: %w", task.ID, err)
	}

	return parts, nil
}

// Metadata loads the decomposition metadata persisted for parentTaskID,
// if any.
func (m *Manager) Metadata(ctx context.Context, parentTaskID string) (kanban.DecompositionMetadata, bool) {
	var meta kanban.DecompositionMetadata
	if err := m.s.Get(ctx, "subtask_metadata", parentTaskID, &meta); err != nil {
		return kanban.DecompositionMetadata{}, false
	}
	return meta, true
}

// CheckRollup marks the parent task done when every one of its subtasks
// (including the integration subtask) is done, mirroring the teacher's
// parent/child completion checks in internal/db/store.go. The tool
// surface calls it after a subtask is reported done.
func (m *Manager) CheckRollup(ctx context.Context, parentTaskID string) (rolledUp bool, err error) {
	rows, err := m.s.Query(ctx, "subtasks", func(v map[string]any) bool {
		return v["parent_task_id"] == parentTaskID
	}, 0, 0)
	if err != nil {
		return false, fmt.Errorf("querying subtasks for %s: %w", parentTaskID, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	for _, row := range rows {
		if status, _ := row["status"].(string); kanban.TaskStatus(status) != kanban.StatusDone {
			return false, nil
		}
	}

	var task kanban.Task
	if err := m.s.Get(ctx, "tasks", parentTaskID, &task); err != nil {
		return false, fmt.Errorf("loading parent task %s: %w", parentTaskID, err)
	}
	if task.Status == kanban.StatusDone {
		return false, nil
	}
	task.Status = kanban.StatusDone
	task.UpdatedAt = time.Now()
	task.History = append(task.History, kanban.HistoryEntry{
		Timestamp: task.UpdatedAt,
		Actor:     "subtask-rollup",
		Action:    "status_change",
		Detail:    "all subtasks completed",
	})
	if err := m.s.Put(ctx, "tasks", task.ID, task); err != nil {
		return false, fmt.Errorf("persisting rolled-up task %s: %w", task.ID, err)
	}
	return true, nil
}
