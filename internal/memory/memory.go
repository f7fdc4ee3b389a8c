// Package memory implements C11, the outcome learner: per-agent rolling
// success-rate and duration stats that feed back into the scheduler's
// scoring, grounded on agents/provider.BaseProvider's mutex-guarded
// running-aggregate pattern (TrackUsage/GetUsage).
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

type agentStats struct {
	successes int
	failures  int
	totalDur  time.Duration
}

// Learner aggregates kanban.Outcome rows into per-agent stats, both
// in-memory (for fast scoring reads) and persisted (for durability and
// diagnose output), exactly as BaseProvider keeps an in-memory usage
// counter while also letting callers query/reset it.
type Learner struct {
	mu    sync.RWMutex
	stats map[string]*agentStats
	s     store.Store
}

func New(s store.Store) *Learner {
	return &Learner{stats: make(map[string]*agentStats), s: s}
}

// Load rebuilds the in-memory aggregate from projectID's persisted
// outcomes; coordinator.New calls it once at startup for the active
// project.
func (l *Learner) Load(ctx context.Context, projectID string) error {
	rows, err := l.s.Query(ctx, "outcomes", func(v map[string]any) bool { return v["project_id"] == projectID }, 0, 0)
	if err != nil {
		return fmt.Errorf("loading outcomes: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range rows {
		var o kanban.Outcome
		if !decode(row, &o) {
			continue
		}
		st := l.statLocked(o.AgentID)
		if o.Success {
			st.successes++
		} else {
			st.failures++
		}
		st.totalDur += o.Duration
	}
	return nil
}

func (l *Learner) statLocked(agentID string) *agentStats {
	st, ok := l.stats[agentID]
	if !ok {
		st = &agentStats{}
		l.stats[agentID] = st
	}
	return st
}

// Record persists an Outcome and updates the in-memory aggregate.
func (l *Learner) Record(ctx context.Context, o kanban.Outcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now()
	}
	if err := l.s.Put(ctx, "outcomes", o.ID, o); err != nil {
		return fmt.Errorf("persisting outcome %s: %w", o.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.statLocked(o.AgentID)
	if o.Success {
		st.successes++
	} else {
		st.failures++
	}
	st.totalDur += o.Duration
	return nil
}

// SuccessRate returns the agent's rolling success rate in [0,1], or 0.5
// (neutral) when no history exists yet.
func (l *Learner) SuccessRate(agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.stats[agentID]
	if !ok {
		return 0.5
	}
	total := st.successes + st.failures
	if total == 0 {
		return 0.5
	}
	return float64(st.successes) / float64(total)
}

// AverageDuration returns the agent's mean completion duration, or 0 if
// no history exists.
func (l *Learner) AverageDuration(agentID string) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.stats[agentID]
	if !ok {
		return 0
	}
	total := st.successes + st.failures
	if total == 0 {
		return 0
	}
	return st.totalDur / time.Duration(total)
}
