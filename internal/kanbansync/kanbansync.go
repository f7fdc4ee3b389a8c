// Package kanbansync implements C12, the Kanban Sync Controller: a
// reconciliation loop between local task state and an external Kanban
// board. A failed card listing doubles a per-board backoff (up to
// maxBackoff) that is reported in the returned error and by NextBackoff;
// the controller itself does not retry or wait. Grounded on
// worktree_manager.go's WorktreeStore reconciliation loop, which treats
// an external, eventually-consistent resource (git worktrees on disk) as
// existence-authoritative while treating local state as
// relationship-authoritative — the same split Marcus needs between the
// external Kanban board (authoritative for "does this card exist, what
// column is it in") and local task state (authoritative for
// dependencies, leases, decisions).
package kanbansync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus-ai/marcus-core/internal/providers/kanbanprovider"
	"github.com/marcus-ai/marcus-core/internal/registry"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

// Controller reconciles one project's tasks against one external board.
type Controller struct {
	s        store.Store
	provider kanbanprovider.Provider
	registry *registry.Registry
	logger   *slog.Logger

	backoff map[string]time.Duration // externalID/taskID -> current backoff, for retry idempotence
}

func New(s store.Store, provider kanbanprovider.Provider, reg *registry.Registry, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{s: s, provider: provider, registry: reg, logger: logger, backoff: make(map[string]time.Duration)}
}

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 5 * time.Minute
)

// DiscoverProjects maps remote cards that have no local task yet into
// newly created Task rows, treating the board as existence-authoritative
// for net-new work — the discovery half of worktree_manager.go's
// reconcile loop, applied to board cards instead of worktree directories.
//
// When preserveActive is true (spec.md §4.12: "all runtime callers,
// enforced by lint"), the registry's active-project pointer is snapshot
// before the sync and restored afterward iff its target project still
// exists, so a sync cycle never silently reassigns which project is
// active. Callers exercising the initial no-active -> active transition
// (tests only) pass false.
func (c *Controller) DiscoverProjects(ctx context.Context, projectID, boardID string, preserveActive bool) (created int, err error) {
	var savedActive string
	if preserveActive && c.registry != nil {
		savedActive = c.registry.Active()
	}

	created, err = c.discoverProjects(ctx, projectID, boardID)

	if preserveActive && c.registry != nil && savedActive != "" && c.registry.Active() != savedActive {
		if _, getErr := c.registry.Get(ctx, savedActive); getErr == nil {
			if restoreErr := c.registry.SelectProject(ctx, savedActive); restoreErr != nil {
				c.logger.Warn("failed to restore active project pointer after sync", "project_id", savedActive, "error", restoreErr)
			}
		}
	}
	return created, err
}

func (c *Controller) discoverProjects(ctx context.Context, projectID, boardID string) (created int, err error) {
	remoteCards, err := c.provider.ListCards(ctx, boardID)
	if err != nil {
		return 0, c.retryableError(boardID, fmt.Errorf("listing remote cards: %w", err))
	}

	existing, err := c.localTasksByExternalRef(ctx, projectID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for _, card := range remoteCards {
		if _, ok := existing[card.ExternalID]; ok {
			continue
		}
		t := kanban.Task{
			ID:          card.ExternalID, // external id reused as local id keeps the mapping trivially idempotent
			ProjectID:   projectID,
			Title:       card.Title,
			Description: card.Description,
			Status:      card.Status,
			Priority:    kanban.PriorityMedium,
			Labels:      []string{"synced:" + c.provider.Name()},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := c.s.Put(ctx, "tasks", t.ID, t); err != nil {
			return created, fmt.Errorf("persisting synced task %s: %w", t.ID, err)
		}
		created++
	}
	delete(c.backoff, boardID)

	if c.registry != nil && c.registry.Active() == "" {
		if err := c.registry.SelectProject(ctx, projectID); err != nil {
			c.logger.Warn("failed to activate first discovered project", "project_id", projectID, "error", err)
		}
	}
	return created, nil
}

// RefreshTasks pushes local task status changes back to the board, one
// card at a time, each retry independent of the others (idempotent:
// re-pushing the same status is a no-op on the remote side).
func (c *Controller) RefreshTasks(ctx context.Context, projectID, boardID string) (pushed int, err error) {
	rows, err := c.s.Query(ctx, "tasks", func(v map[string]any) bool { return v["project_id"] == projectID }, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("querying tasks for sync: %w", err)
	}

	for _, row := range rows {
		var t kanban.Task
		if !decode(row, &t) {
			continue
		}
		if !isSynced(t) {
			continue
		}
		if err := c.provider.UpdateCardStatus(ctx, boardID, t.ID, t.Status); err != nil {
			c.logger.Warn("failed to push task status to kanban provider", "task_id", t.ID, "error", err)
			continue
		}
		delete(c.backoff, t.ID)
		pushed++
	}
	return pushed, nil
}

func isSynced(t kanban.Task) bool {
	for _, l := range t.Labels {
		if len(l) >= 7 && l[:7] == "synced:" {
			return true
		}
	}
	return false
}

func (c *Controller) localTasksByExternalRef(ctx context.Context, projectID string) (map[string]bool, error) {
	rows, err := c.s.Query(ctx, "tasks", func(v map[string]any) bool { return v["project_id"] == projectID }, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying local tasks: %w", err)
	}
	out := make(map[string]bool, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			out[id] = true
		}
	}
	return out, nil
}

// retryableError computes (but does not sleep on) the next backoff for
// key, doubling up to maxBackoff, so the caller's own ticker naturally
// spaces out retries without the controller blocking a goroutine in
// time.Sleep.
func (c *Controller) retryableError(key string, err error) error {
	cur := c.backoff[key]
	if cur == 0 {
		cur = initialBackoff
	} else {
		cur *= 2
		if cur > maxBackoff {
			cur = maxBackoff
		}
	}
	c.backoff[key] = cur
	return fmt.Errorf("%w (next retry backoff %s)", err, cur)
}

// NextBackoff reports the current backoff duration for key, for callers
// that want to skip a tick rather than retry immediately.
func (c *Controller) NextBackoff(key string) time.Duration {
	return c.backoff[key]
}
