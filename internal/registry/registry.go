// Package registry implements C3, the project registry and
// active-project state machine, generalizing the teacher's single-board
// assumption (kanban.State holds exactly one *Board) to N registered
// projects with exactly one active at a time, grounded on
// kanban/state.go's Load/Save/GetConfig and kanban/types.go's NewBoard.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-ai/marcus-core/internal/marcuserr"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

const collection = "projects"
const activeKey = "active_project"

type activePointer struct {
	ProjectID string `json:"project_id"`
}

// Registry tracks registered projects and which one is active, caching
// the active pointer in memory the way kanban.State caches s.board after
// Load() rehydrates it from disk.
type Registry struct {
	mu     sync.RWMutex
	s      store.Store
	active string // project id, "" if none
}

// New constructs a Registry and loads any persisted active pointer.
func New(ctx context.Context, s store.Store) (*Registry, error) {
	r := &Registry{s: s}
	var ptr activePointer
	err := s.Get(ctx, collection, activeKey, &ptr)
	if err == nil {
		r.active = ptr.ProjectID
	} else if !marcuserr.Is(err, marcuserr.KindNotFound) {
		return nil, fmt.Errorf("loading active project pointer: %w", err)
	}
	return r, nil
}

// Create registers a brand-new project (with defaulted ProjectConfig)
// and makes it active, mirroring kanban.NewBoard() being the only way
// the teacher creates board state.
func (r *Registry) Create(ctx context.Context, name string) (*kanban.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := kanban.NewProject(uuid.New().String(), name)
	if err := r.s.Put(ctx, collection, p.ID, p); err != nil {
		return nil, fmt.Errorf("persisting project %s: %w", p.ID, err)
	}
	if err := r.setActiveLocked(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// AddProject registers an already-constructed project without changing
// which project is active.
func (r *Registry) AddProject(ctx context.Context, p *kanban.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.s.Put(ctx, collection, p.ID, p); err != nil {
		return fmt.Errorf("persisting project %s: %w", p.ID, err)
	}
	return nil
}

// SelectProject switches the active pointer to projectID, erroring if no
// such project is registered.
func (r *Registry) SelectProject(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p kanban.Project
	if err := r.s.Get(ctx, collection, projectID, &p); err != nil {
		return fmt.Errorf("selecting project %s: %w", projectID, err)
	}
	if err := r.setActiveLocked(ctx, projectID); err != nil {
		return err
	}
	return r.touchLocked(ctx, projectID)
}

func (r *Registry) setActiveLocked(ctx context.Context, projectID string) error {
	if err := r.s.Put(ctx, collection, activeKey, activePointer{ProjectID: projectID}); err != nil {
		return fmt.Errorf("persisting active project pointer: %w", err)
	}
	r.active = projectID
	return nil
}

// touchLocked bumps projectID's UpdatedAt so "most-recently-used"
// selection (DeleteActive's reselection rule) has a deterministic signal
// to sort on.
func (r *Registry) touchLocked(ctx context.Context, projectID string) error {
	var p kanban.Project
	if err := r.s.Get(ctx, collection, projectID, &p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now()
	return r.s.Put(ctx, collection, p.ID, &p)
}

// Active returns the currently active project id, or "" if none.
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Get fetches a project by id.
func (r *Registry) Get(ctx context.Context, projectID string) (*kanban.Project, error) {
	var p kanban.Project
	if err := r.s.Get(ctx, collection, projectID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveProject fetches the currently active project, erroring with
// KindNotFound if none is active.
func (r *Registry) ActiveProject(ctx context.Context) (*kanban.Project, error) {
	active := r.Active()
	if active == "" {
		return nil, marcuserr.New(marcuserr.KindNotFound, "no active project")
	}
	return r.Get(ctx, active)
}

// List returns every registered project.
func (r *Registry) List(ctx context.Context) ([]kanban.Project, error) {
	rows, err := r.s.Query(ctx, collection, func(v map[string]any) bool {
		_, isPointer := v["project_id"]
		return !isPointer
	}, 0, 0)
	if err != nil {
		return nil, err
	}
	projects := make([]kanban.Project, 0, len(rows))
	for _, row := range rows {
		var p kanban.Project
		if err := remarshal(row, &p); err == nil && p.ID != "" {
			projects = append(projects, p)
		}
	}
	return projects, nil
}

// UpdateConfig persists an updated ProjectConfig for projectID,
// generalizing kanban.State's implicit single BoardConfig to per-project
// configs.
func (r *Registry) UpdateConfig(ctx context.Context, projectID string, cfg kanban.ProjectConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.Get(ctx, projectID)
	if err != nil {
		return err
	}
	p.Config = cfg
	p.UpdatedAt = time.Now()
	return r.s.Put(ctx, collection, p.ID, p)
}

// DeleteActive archives (never hard-deletes) the active project, since
// spec.md requires auditability of prior projects. Per spec.md §4.3's
// state table (`active | delete_project(active)`), the active pointer is
// not simply cleared: the most-recently-used remaining project (by
// UpdatedAt) becomes the new active, and only if none remains does the
// registry fall back to no-active.
func (r *Registry) DeleteActive(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == "" {
		return marcuserr.New(marcuserr.KindNotFound, "no active project to delete")
	}
	deletedID := r.active
	var p kanban.Project
	if err := r.s.Get(ctx, collection, deletedID, &p); err != nil {
		return err
	}
	p.Status = kanban.ProjectArchived
	p.UpdatedAt = time.Now()
	if err := r.s.Put(ctx, collection, p.ID, &p); err != nil {
		return err
	}

	rows, err := r.s.Query(ctx, collection, func(v map[string]any) bool {
		if v["id"] == nil || v["id"] == deletedID {
			return false
		}
		status, _ := v["status"].(string)
		return kanban.ProjectStatus(status) != kanban.ProjectArchived
	}, 0, 0)
	if err != nil {
		return fmt.Errorf("querying remaining projects: %w", err)
	}

	var mostRecent *kanban.Project
	for _, row := range rows {
		var candidate kanban.Project
		if err := remarshal(row, &candidate); err != nil || candidate.ID == "" {
			continue
		}
		if mostRecent == nil || candidate.UpdatedAt.After(mostRecent.UpdatedAt) {
			c := candidate
			mostRecent = &c
		}
	}

	if mostRecent == nil {
		r.active = ""
		return r.s.Delete(ctx, collection, activeKey)
	}
	return r.setActiveLocked(ctx, mostRecent.ID)
}

func remarshal(row map[string]any, dest any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
