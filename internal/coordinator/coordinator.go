// Package coordinator wires C1 through C13 into a single runnable
// Engine, grounded on orchestrator.go's NewOrchestrator/Initialize/Run:
// construct a logger, construct each subsystem against the shared
// store, start background loops on a ticker+select main loop, and
// expose the same state to both the tool surface and the (ambient)
// dashboard.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/marcus-ai/marcus-core/internal/bus"
	"github.com/marcus-ai/marcus-core/internal/config"
	"github.com/marcus-ai/marcus-core/internal/gridlock"
	"github.com/marcus-ai/marcus-core/internal/kanbansync"
	"github.com/marcus-ai/marcus-core/internal/lease"
	"github.com/marcus-ai/marcus-core/internal/memory"
	"github.com/marcus-ai/marcus-core/internal/providers/aiprovider"
	"github.com/marcus-ai/marcus-core/internal/providers/kanbanprovider"
	"github.com/marcus-ai/marcus-core/internal/registry"
	"github.com/marcus-ai/marcus-core/internal/scheduler"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/internal/subtasks"
	"github.com/marcus-ai/marcus-core/internal/taskcontext"
	"github.com/marcus-ai/marcus-core/internal/toolsurface"
)

// Engine is the assembled Marcus coordination core.
type Engine struct {
	Logger   *slog.Logger
	Store    store.Store
	Bus      *bus.Bus
	Registry *registry.Registry
	Handlers *toolsurface.Handlers

	leaseMonitor *lease.Monitor
	kanbanSync   *kanbansync.Controller
	kanbanBoard  string

	stop chan struct{}
}

// New constructs every subsystem, mirroring NewOrchestrator's
// construction order: logger first, persistence next, then every
// capability that depends on it.
func New(ctx context.Context, cfg config.Config) (*Engine, error) {
	logger := newLogger(cfg)

	s, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening persistence backend: %w", err)
	}

	reg, err := registry.New(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("loading project registry: %w", err)
	}

	eventBus := bus.New(logger, 1000)
	learner := memory.New(s)
	if active := reg.Active(); active != "" {
		if err := learner.Load(ctx, active); err != nil {
			logger.Warn("loading outcome history failed", "project_id", active, "error", err)
		}
	}
	leaseMgr := lease.New(s, eventBus, logger)
	schedEngine := scheduler.New(s, leaseMgr, learner)
	gridlockDet := gridlock.New()
	ctxMaterializer := taskcontext.New(s)

	aiProv := resolveAIProvider(cfg)
	subtaskMgr := subtasks.New(s, aiProv)

	kanbanProv := resolveKanbanProvider(cfg)
	kSync := kanbansync.New(s, kanbanProv, reg, logger)

	handlers := &toolsurface.Handlers{
		Store:     s,
		Registry:  reg,
		Scheduler: schedEngine,
		Leases:    leaseMgr,
		Context:   ctxMaterializer,
		Subtasks:  subtaskMgr,
		Gridlock:  gridlockDet,
		Learner:   learner,
		Bus:       eventBus,
	}

	e := &Engine{
		Logger:      logger,
		Store:       s,
		Bus:         eventBus,
		Registry:    reg,
		Handlers:    handlers,
		kanbanSync:  kSync,
		kanbanBoard: cfg.KanbanProvider,
		stop:        make(chan struct{}),
	}
	e.leaseMonitor = lease.NewMonitor(leaseMgr, e.activeProjectID, 30*time.Second, logger)
	return e, nil
}

func (e *Engine) activeProjectID() string {
	return e.Registry.Active()
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromString(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func levelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.Backend == "sqlite" {
		return store.Open(cfg.SQLitePath)
	}
	return store.NewFileStore(cfg.DataDir)
}

func resolveAIProvider(cfg config.Config) aiprovider.Provider {
	switch cfg.AIProvider {
	case "anthropic":
		return aiprovider.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY"), "")
	case "openai":
		return aiprovider.NewOpenAI(os.Getenv("OPENAI_API_KEY"), "")
	case "google":
		return aiprovider.NewGoogle(os.Getenv("GOOGLE_API_KEY"), "")
	default:
		return aiprovider.NewFake()
	}
}

func resolveKanbanProvider(cfg config.Config) kanbanprovider.Provider {
	switch cfg.KanbanProvider {
	case "planka":
		return kanbanprovider.NewPlanka(os.Getenv("PLANKA_BASE_URL"), os.Getenv("PLANKA_TOKEN"))
	case "github":
		return kanbanprovider.NewGitHub(os.Getenv("GITHUB_TOKEN"))
	default:
		return kanbanprovider.NewFake()
	}
}

// Run starts the lease monitor, runs a kanban sync cycle on a two-minute
// ticker (gridlock is evaluated by the tool surface, not here), and blocks
// until ctx is canceled or Stop is called, mirroring orchestrator.go's Run(ctx)
// ticker+select main loop.
func (e *Engine) Run(ctx context.Context) error {
	go e.leaseMonitor.Run(ctx)

	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	e.Logger.Info("marcus coordination engine started")
	for {
		select {
		case <-ctx.Done():
			e.Logger.Info("marcus coordination engine stopping")
			return e.Store.Close()
		case <-e.stop:
			return e.Store.Close()
		case <-ticker.C:
			e.runKanbanSyncCycle(ctx)
		}
	}
}

func (e *Engine) runKanbanSyncCycle(ctx context.Context) {
	projectID := e.Registry.Active()
	if projectID == "" {
		return
	}
	if _, err := e.kanbanSync.DiscoverProjects(ctx, projectID, e.kanbanBoard, true); err != nil {
		e.Logger.Warn("kanban discovery cycle failed", "error", err)
	}
	if _, err := e.kanbanSync.RefreshTasks(ctx, projectID, e.kanbanBoard); err != nil {
		e.Logger.Warn("kanban refresh cycle failed", "error", err)
	}
}

// Stop requests the main loop to exit.
func (e *Engine) Stop() {
	close(e.stop)
	e.leaseMonitor.Stop()
}
