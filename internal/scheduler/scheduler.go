// Package scheduler implements C9, the Assignment Engine: a pull-based
// RequestNextTask that selects the best available subtask or task for a
// requesting agent under a per-project mutex. Grounded directly on
// orchestrator.go's processDevStage/GetNextTicketForDomain pipeline and
// kanban/state.go's dependenciesMet filter, reused almost verbatim.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marcus-ai/marcus-core/internal/lease"
	"github.com/marcus-ai/marcus-core/internal/marcuserr"
	"github.com/marcus-ai/marcus-core/internal/memory"
	"github.com/marcus-ai/marcus-core/internal/store"
	"github.com/marcus-ai/marcus-core/kanban"
)

const destructiveLabel = "destructive"

// Engine selects and leases work for requesting agents.
type Engine struct {
	mus     map[string]*sync.Mutex
	muGuard sync.Mutex
	s       store.Store
	leases  *lease.Manager
	learner *memory.Learner
}

func New(s store.Store, leases *lease.Manager, learner *memory.Learner) *Engine {
	return &Engine{
		mus:     make(map[string]*sync.Mutex),
		s:       s,
		leases:  leases,
		learner: learner,
	}
}

func (e *Engine) projectMutex(projectID string) *sync.Mutex {
	e.muGuard.Lock()
	defer e.muGuard.Unlock()
	mu, ok := e.mus[projectID]
	if !ok {
		mu = &sync.Mutex{}
		e.mus[projectID] = mu
	}
	return mu
}

// RequestNextTask is the pull-based scheduling entry point: it locks the
// project (the same single-mutex-per-cycle discipline as
// orchestrator.go's o.mu.Lock() around runCycle), checks the agent is
// under capacity, selects a candidate, issues a lease, and marks the
// candidate in_progress — all before releasing the lock, so two
// concurrent requests never race onto the same candidate.
func (e *Engine) RequestNextTask(ctx context.Context, projectID string, agent kanban.AgentProfile, cfg kanban.ProjectConfig) (*kanban.TaskContext, *kanban.Lease, error) {
	mu := e.projectMutex(projectID)
	mu.Lock()
	defer mu.Unlock()

	// Step 1 (spec.md §4.9): preconditions — agent not over capacity.
	capacity := agent.Capacity
	if capacity <= 0 {
		capacity = kanban.DefaultAgentCapacity
	}
	if e.leases != nil {
		active, err := e.leases.ActiveForAgent(ctx, projectID, agent.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("checking agent capacity: %w", err)
		}
		if len(active) >= capacity {
			return nil, nil, marcuserr.New(marcuserr.KindNotFound, "agent is at capacity")
		}
	}

	subtasks, err := e.loadSubtasks(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := e.loadTasks(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	allDone := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == kanban.StatusDone {
			allDone[t.ID] = true
		}
	}
	for _, s := range subtasks {
		if s.Status == kanban.StatusDone {
			allDone[s.ID] = true
		}
	}

	if candidate := pickSubtask(subtasks, agent, allDone, e.learner); candidate != nil {
		return e.assignSubtask(ctx, projectID, *candidate, agent, cfg)
	}
	if candidate := pickTask(tasks, agent, allDone, e.learner); candidate != nil {
		return e.assignTask(ctx, projectID, *candidate, agent, cfg)
	}
	return nil, nil, marcuserr.New(marcuserr.KindNotFound, "no available task for agent")
}

func (e *Engine) loadTasks(ctx context.Context, projectID string) ([]kanban.Task, error) {
	rows, err := e.s.Query(ctx, "tasks", func(v map[string]any) bool { return v["project_id"] == projectID }, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	out := make([]kanban.Task, 0, len(rows))
	for _, row := range rows {
		var t kanban.Task
		if decode(row, &t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Engine) loadSubtasks(ctx context.Context, projectID string) ([]kanban.Subtask, error) {
	rows, err := e.s.Query(ctx, "subtasks", func(v map[string]any) bool { return v["project_id"] == projectID }, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("querying subtasks: %w", err)
	}
	out := make([]kanban.Subtask, 0, len(rows))
	for _, row := range rows {
		var s kanban.Subtask
		if decode(row, &s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// dependenciesMet mirrors kanban/state.go's function of the same
// purpose nearly verbatim: every dependency id must be marked done.
func dependenciesMet(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

// hasSkillMatch reports whether agent's skills intersect required. An
// empty required set always matches.
func hasSkillMatch(required, have []string) bool {
	if len(required) == 0 {
		return true
	}
	haveSet := make(map[string]bool, len(have))
	for _, s := range have {
		haveSet[s] = true
	}
	for _, r := range required {
		if haveSet[r] {
			return true
		}
	}
	return false
}

// hasLabel reports whether labels contains name.
func hasLabel(labels []string, name string) bool {
	for _, l := range labels {
		if l == name {
			return true
		}
	}
	return false
}

func pickSubtask(subtasks []kanban.Subtask, agent kanban.AgentProfile, done map[string]bool, learner *memory.Learner) *kanban.Subtask {
	kanban.SortSubtasksByOrder(subtasks)
	type candidate struct {
		s     kanban.Subtask
		score float64
	}
	var candidates []candidate
	for i := range subtasks {
		s := subtasks[i]
		if s.Status != kanban.StatusTodo || s.AssignedTo != "" {
			continue
		}
		if !dependenciesMet(s.Dependencies, done) {
			continue
		}
		// Step 5 (spec.md §4.9): skill filter is soft — a mismatch demotes
		// the candidate's score rather than dropping it.
		score := scoreCandidate(s.Priority, s.Order, agent.ID, learner)
		if !hasSkillMatch(s.RequiredSkills, agent.Skills) {
			score -= 50
		}
		candidates = append(candidates, candidate{s, score})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	best := candidates[0].s
	return &best
}

func pickTask(tasks []kanban.Task, agent kanban.AgentProfile, done map[string]bool, learner *memory.Learner) *kanban.Task {
	kanban.SortTasksByPriority(tasks)
	type candidate struct {
		t     kanban.Task
		score float64
	}
	var candidates []candidate
	for i := range tasks {
		t := tasks[i]
		if t.Status != kanban.StatusTodo || t.AssignedTo != "" {
			continue
		}
		if !dependenciesMet(t.Dependencies, done) {
			continue
		}
		// Step 4 (spec.md §4.9): safety filter — destructive-labeled
		// candidates are dropped outright for roles not on the allow list.
		if hasLabel(t.Labels, destructiveLabel) && !kanban.RoleMayTakeDestructive(agent.Role) {
			continue
		}
		// Step 5: soft skill filter, same demotion discipline as subtasks.
		score := scoreCandidate(t.Priority, t.Priority.Rank(), agent.ID, learner)
		if !hasSkillMatch(t.RequiredSkills, agent.Skills) {
			score -= 50
		}
		candidates = append(candidates, candidate{t, score})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	best := candidates[0].t
	return &best
}

// scoreCandidate combines priority rank with the agent's historical
// success rate from the outcome learner (C11), grounded on
// agents/provider.BaseProvider's usage-aggregate-informing-decisions
// idea, generalized from usage tracking to success-rate tracking.
func scoreCandidate(priority kanban.Priority, tiebreak int, agentID string, learner *memory.Learner) float64 {
	base := float64(100 - priority.Rank()*10 - tiebreak)
	if learner != nil {
		base += learner.SuccessRate(agentID) * 10
	}
	return base
}

// assignSubtask issues the lease before flipping status (spec.md §4.9
// step 7 / §5(b): "a lease is durable before the task status flips to
// in_progress"). If the status write fails after the lease was issued,
// the lease is rolled back so the system never ends up with a durable
// lease bound to a task that was never actually marked assigned.
func (e *Engine) assignSubtask(ctx context.Context, projectID string, s kanban.Subtask, agent kanban.AgentProfile, cfg kanban.ProjectConfig) (*kanban.TaskContext, *kanban.Lease, error) {
	l, err := e.leases.Issue(ctx, projectID, s.ID, true, agent.ID, cfg.LeaseTTL)
	if err != nil {
		return nil, nil, err
	}
	s.Status = kanban.StatusInProgress
	s.AssignedTo = agent.ID
	if err := e.s.Put(ctx, "subtasks", s.ID, s); err != nil {
		if delErr := e.s.Delete(ctx, "leases", l.ID); delErr != nil {
			return nil, nil, fmt.Errorf("assigning subtask %s: %w (lease rollback also failed: %v)", s.ID, err, delErr)
		}
		return nil, nil, fmt.Errorf("assigning subtask %s: %w", s.ID, err)
	}
	return &kanban.TaskContext{Subtask: &s}, l, nil
}

func (e *Engine) assignTask(ctx context.Context, projectID string, t kanban.Task, agent kanban.AgentProfile, cfg kanban.ProjectConfig) (*kanban.TaskContext, *kanban.Lease, error) {
	l, err := e.leases.Issue(ctx, projectID, t.ID, false, agent.ID, cfg.LeaseTTL)
	if err != nil {
		return nil, nil, err
	}
	t.Status = kanban.StatusInProgress
	t.AssignedTo = agent.ID
	if err := e.s.Put(ctx, "tasks", t.ID, t); err != nil {
		if delErr := e.s.Delete(ctx, "leases", l.ID); delErr != nil {
			return nil, nil, fmt.Errorf("assigning task %s: %w (lease rollback also failed: %v)", t.ID, err, delErr)
		}
		return nil, nil, fmt.Errorf("assigning task %s: %w", t.ID, err)
	}
	return &kanban.TaskContext{Task: t}, l, nil
}
