// Package taskcontext implements C6, the Context & Decision Store: a
// read-only, depth-bounded materialization of everything an agent needs
// to act on a task, grounded on orchestrator.go's createSignoffReport/
// parseSignoffReport pattern of assembling a rich view on demand from
// several collections rather than persisting a denormalized copy.
package taskcontext

import (
	"context"
	"fmt"
	"sort"

	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

// Materializer builds kanban.TaskContext values on demand.
type Materializer struct {
	s store.Store
}

func New(s store.Store) *Materializer {
	return &Materializer{s: s}
}

func (m *Materializer) getTask(ctx context.Context, id string) (kanban.Task, bool) {
	var t kanban.Task
	if err := m.s.Get(ctx, "tasks", id, &t); err == nil {
		return t, true
	}
	return kanban.Task{}, false
}

func (m *Materializer) getSubtask(ctx context.Context, id string) (kanban.Subtask, bool) {
	var s kanban.Subtask
	if err := m.s.Get(ctx, "subtasks", id, &s); err == nil {
		return s, true
	}
	return kanban.Subtask{}, false
}

// Materialize builds the TaskContext for a task or subtask id, following
// ParentTaskID up to maxDepth hops (spec.md §9 Open Question 4; defaults
// to 3 via kanban.ProjectConfig.MaxContextDepth) before setting
// Truncated. Dependencies holds the direct dependencies only, looked up
// in the tasks collection.
func (m *Materializer) Materialize(ctx context.Context, projectID, taskOrSubtaskID string, maxDepth int) (*kanban.TaskContext, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}

	tc := &kanban.TaskContext{}

	if sub, ok := m.getSubtask(ctx, taskOrSubtaskID); ok {
		tc.Subtask = &sub
		parent, ok := m.getTask(ctx, sub.ParentTaskID)
		if !ok {
			return nil, fmt.Errorf("subtask %s references missing parent task %s", sub.ID, sub.ParentTaskID)
		}
		tc.Task = parent
	} else if task, ok := m.getTask(ctx, taskOrSubtaskID); ok {
		tc.Task = task
	} else {
		return nil, fmt.Errorf("no task or subtask found for id %s", taskOrSubtaskID)
	}

	ancestors, truncated := m.walkAncestors(ctx, tc.Task.ID, maxDepth)
	tc.Ancestors = ancestors
	tc.Truncated = truncated

	deps := tc.Task.Dependencies
	if tc.Subtask != nil {
		deps = tc.Subtask.Dependencies
	}
	for _, depID := range deps {
		if t, ok := m.getTask(ctx, depID); ok {
			tc.Dependencies = append(tc.Dependencies, t)
		}
	}

	decisions, err := m.decisionsFor(ctx, projectID, tc.Task.ID)
	if err != nil {
		return nil, err
	}
	for _, dep := range tc.Dependencies {
		depDecisions, err := m.decisionsFor(ctx, projectID, dep.ID)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, depDecisions...)
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].CreatedAt.Before(decisions[j].CreatedAt) })
	tc.Decisions = decisions

	artifacts, err := m.artifactsFor(ctx, projectID, tc.Task.ID)
	if err != nil {
		return nil, err
	}
	for _, dep := range tc.Dependencies {
		depArtifacts, err := m.artifactsFor(ctx, projectID, dep.ID)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, depArtifacts...)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt) })
	tc.Artifacts = artifacts

	dependents, err := m.dependentsOf(ctx, tc.Task.ID)
	if err != nil {
		return nil, err
	}
	tc.DependentTasks = dependents

	if tc.Subtask != nil {
		siblings, err := m.siblingProvidesOf(ctx, tc.Subtask.ParentTaskID, tc.Subtask.ID)
		if err != nil {
			return nil, err
		}
		tc.SiblingProvides = siblings

		if conventions, ok := m.sharedConventionsFor(ctx, tc.Subtask.ParentTaskID); ok {
			tc.SharedConventions = conventions
		}
	}

	return tc, nil
}

// dependentsOf returns every task whose Dependencies list names id: the
// reverse edge spec.md §4.6 calls dependent_tasks.
func (m *Materializer) dependentsOf(ctx context.Context, id string) ([]kanban.Task, error) {
	rows, err := m.s.Query(ctx, "tasks", func(v map[string]any) bool {
		return taskDependsOn(v, id)
	}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying dependent tasks: %w", err)
	}
	out := make([]kanban.Task, 0, len(rows))
	for _, row := range rows {
		var t kanban.Task
		if decode(row, &t) && t.ID != id {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func taskDependsOn(v map[string]any, id string) bool {
	raw, ok := v["dependencies"].([]any)
	if !ok {
		return false
	}
	for _, d := range raw {
		if s, ok := d.(string); ok && s == id {
			return true
		}
	}
	return false
}

// siblingProvidesOf collects the Provides strings of every other subtask
// sharing parentTaskID, so an agent sees what neighboring work already
// hands it without re-deriving it from the parent's decomposition.
func (m *Materializer) siblingProvidesOf(ctx context.Context, parentTaskID, excludeSubtaskID string) ([]string, error) {
	rows, err := m.s.Query(ctx, "subtasks", func(v map[string]any) bool {
		return v["parent_task_id"] == parentTaskID
	}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying sibling subtasks: %w", err)
	}
	var out []string
	for _, row := range rows {
		var s kanban.Subtask
		if !decode(row, &s) || s.ID == excludeSubtaskID || s.Provides == "" {
			continue
		}
		out = append(out, s.Provides)
	}
	sort.Strings(out)
	return out, nil
}

// sharedConventionsFor loads the decomposition metadata persisted for a
// parent task, if any (see internal/subtasks's Decompose).
func (m *Materializer) sharedConventionsFor(ctx context.Context, parentTaskID string) (map[string]string, bool) {
	var meta kanban.DecompositionMetadata
	if err := m.s.Get(ctx, "subtask_metadata", parentTaskID, &meta); err != nil {
		return nil, false
	}
	return meta.SharedConventions, true
}

func (m *Materializer) walkAncestors(ctx context.Context, taskID string, maxDepth int) ([]kanban.Task, bool) {
	var out []kanban.Task
	seen := map[string]bool{taskID: true}
	cur := taskID
	for depth := 0; depth < maxDepth; depth++ {
		t, ok := m.getTask(ctx, cur)
		if !ok || t.ParentTaskID == "" {
			return out, false
		}
		if seen[t.ParentTaskID] {
			return out, true // defensive cycle guard, mirrors isThrashing's bounded scan
		}
		parent, ok := m.getTask(ctx, t.ParentTaskID)
		if !ok {
			return out, false
		}
		out = append(out, parent)
		seen[parent.ID] = true
		cur = parent.ID
	}
	// one more hop exists beyond the bound, so this is a truncation
	if t, ok := m.getTask(ctx, cur); ok && t.ParentTaskID != "" {
		return out, true
	}
	return out, false
}

func (m *Materializer) decisionsFor(ctx context.Context, projectID, taskID string) ([]kanban.Decision, error) {
	rows, err := m.s.Query(ctx, "decisions", func(v map[string]any) bool {
		return v["project_id"] == projectID && v["task_id"] == taskID
	}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	out := make([]kanban.Decision, 0, len(rows))
	for _, row := range rows {
		var d kanban.Decision
		if decode(row, &d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Materializer) artifactsFor(ctx context.Context, projectID, taskID string) ([]kanban.Artifact, error) {
	rows, err := m.s.Query(ctx, "artifacts", func(v map[string]any) bool {
		return v["project_id"] == projectID && v["task_id"] == taskID
	}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	out := make([]kanban.Artifact, 0, len(rows))
	for _, row := range rows {
		var a kanban.Artifact
		if decode(row, &a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
