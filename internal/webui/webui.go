// Package webui is Marcus's ambient, read-only dashboard surface:
// project stats, active leases, and a live event stream. It is
// explicitly out of the tested coordination-core contract (spec.md
// scopes the dashboard out) but is carried because the teacher always
// ships one (internal/web/server.go, sse.go, handlers.go), now built on
// gorilla/mux and gorilla/websocket (from ODSapper-CLIAIMONITOR) instead
// of the teacher's stdlib net/http.ServeMux wrapper. It imports
// read-only accessors only and can never mutate coordination state.
package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"github.com/marcus-ai/marcus-core/internal/bus"
	"github.com/marcus-ai/marcus-core/internal/registry"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/internal/toolsurface"
	"github.com/marcus-ai/marcus-core/kanban"
)

// Server hosts the dashboard HTTP+WebSocket surface.
type Server struct {
	registry *registry.Registry
	store    store.Store
	bus      *bus.Bus
	handlers *toolsurface.Handlers
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(reg *registry.Registry, s store.Store, b *bus.Bus, h *toolsurface.Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: reg,
		store:    s,
		bus:      b,
		handlers: h,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Router builds the gorilla/mux route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/diagnose", s.handleDiagnose).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id}/description.html", s.handleTaskDescriptionHTML).Methods(http.MethodGet)
	r.HandleFunc("/ws/events", s.handleEventsWS)
	return r
}

// statusView is handleStatus's response: the project record plus a
// human-readable "how long has this been the active project" string, so
// the dashboard doesn't have to reimplement relative-time formatting.
type statusView struct {
	*kanban.Project
	ActiveSince string `json:"active_since"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	project, err := s.registry.ActiveProject(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, statusView{Project: project, ActiveSince: humanize.Time(project.UpdatedAt)})
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	d, err := s.handlers.Diagnose(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, d)
}

// handleTaskDescriptionHTML renders a task's free-text description as
// HTML via goldmark, since agents and decisions alike write descriptions
// and rationale in markdown and the dashboard should not show raw text.
func (s *Server) handleTaskDescriptionHTML(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var task kanban.Task
	if err := s.store.Get(r.Context(), "tasks", id, &task); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(task.Description), &buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleEventsWS streams bus events live, grounded on internal/web/sse.go's
// push-to-client pattern, upgraded from SSE to a websocket connection.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	outgoing := make(chan []byte, 64)
	unsubscribe := s.bus.Subscribe("*", func(_ context.Context, evt kanban.Event) {
		data, err := json.Marshal(evt)
		if err != nil {
			return
		}
		select {
		case outgoing <- data:
		default: // slow client: drop rather than block the publisher
		}
	})
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-outgoing:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Start runs the HTTP server until ctx is canceled.
func Start(ctx context.Context, s *Server, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webui server: %w", err)
	}
	return nil
}
