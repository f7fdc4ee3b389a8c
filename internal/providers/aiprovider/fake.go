package aiprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcus-ai/marcus-core/kanban"
)

// Fake is a deterministic, no-network implementation used by tests and
// as the zero-configuration default, grounded on the teacher's own test
// fixture style in orchestrator_prd_test.go (hand-built, no mocking
// framework).
type Fake struct {
	BaseProvider
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Name() string    { return "fake" }
func (f *Fake) Available() bool { return true }

func (f *Fake) InferDependencies(_ context.Context, a, b kanban.Task) (bool, float64, error) {
	f.TrackUsage(len(a.Description)+len(b.Description), 8)
	depends := strings.Contains(strings.ToLower(b.Description), strings.ToLower(a.Title))
	if depends {
		return true, 0.6, nil
	}
	return false, 0, nil
}

func (f *Fake) Decompose(_ context.Context, task kanban.Task) (kanban.DecompositionResult, error) {
	f.TrackUsage(len(task.Description), 40)
	steps := []struct {
		name     string
		provides string
		requires string
	}{
		{"Design", "interface contracts and data model", ""},
		{"Implement", "working code behind the contracts", "interface contracts and data model"},
		{"Test", "passing test suite", "working code behind the contracts"},
	}
	out := make([]kanban.Subtask, 0, len(steps))
	for i, step := range steps {
		out = append(out, kanban.Subtask{
			Title:          fmt.Sprintf("%s: %s", step.name, task.Title),
			Description:    fmt.Sprintf("%s phase for %s", step.name, task.Description),
			Priority:       task.Priority,
			EstimatedHours: task.EstimatedHours / float64(len(steps)),
			Provides:       step.provides,
			Requires:       step.requires,
			Order:          i,
		})
	}
	conventions := map[string]string{
		"base_path":         "internal/",
		"response_format":   "json",
		"naming_convention": "snake_case",
	}
	return kanban.DecompositionResult{Subtasks: out, SharedConventions: conventions}, nil
}

func (f *Fake) GenerateInstructions(_ context.Context, tc kanban.TaskContext) (string, error) {
	f.TrackUsage(64, 128)
	title := tc.Task.Title
	if tc.Subtask != nil {
		title = tc.Subtask.Title
	}
	return fmt.Sprintf("## Instructions for %s\n\nProceed using the attached context.", title), nil
}
