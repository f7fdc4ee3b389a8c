// Package kanban holds Marcus's wire and persistence data model: the
// plain structs and tagged-union enums every component reads and writes.
// Nothing in this package talks to disk, the network, or an external
// provider — that is internal/store's and internal/providers/*'s job.
package kanban

import (
	"sort"
	"time"
)

// TaskStatus is the lifecycle state of a Task or Subtask.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusDone       TaskStatus = "done"
)

// Priority is a coarse ordering hint used by the scheduler.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityMedium: 2,
	PriorityLow:    3,
}

// Rank returns a sort key where lower means more urgent.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityMedium]
}

// Task is a top-level unit of work inside a Project.
type Task struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Status         TaskStatus     `json:"status"`
	Priority       Priority       `json:"priority"`
	Labels         []string       `json:"labels,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"` // task/subtask IDs this depends on
	EstimatedHours float64        `json:"estimated_hours"`
	ActualHours    float64        `json:"actual_hours"`
	AssignedTo     string         `json:"assigned_to,omitempty"` // agent id, empty if unassigned
	ParentTaskID   string         `json:"parent_task_id,omitempty"`
	RequiredSkills []string       `json:"required_skills,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	History        []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry records one state transition for audit/diagnosis.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}

// Subtask is a decomposed unit of a Task, owned by that Task.
type Subtask struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	ParentTaskID   string     `json:"parent_task_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         TaskStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	Order          int        `json:"order"`
	IsIntegration  bool       `json:"is_integration"`
	EstimatedHours float64    `json:"estimated_hours"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	// Provides is a one-line statement of what this subtask hands to its
	// siblings (e.g. "REST handlers under /api/v1/users"); Requires is the
	// converse — what it expects siblings to have already provided.
	Provides       string    `json:"provides,omitempty"`
	Requires       string    `json:"requires,omitempty"`
	FileArtifacts  []string  `json:"file_artifacts,omitempty"`
	AssignedTo     string    `json:"assigned_to,omitempty"`
	RequiredSkills []string  `json:"required_skills,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DependencyEdge is a directed edge A depends-on B.
type DependencyEdge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"` // "manual", "pattern", "ai"
}

// DependencyGraph is the adjacency-list view the graph validator and
// scheduler operate over.
type DependencyGraph struct {
	Nodes []string         `json:"nodes"`
	Edges []DependencyEdge `json:"edges"`
}

// Decision is a log_decision entry: durable rationale attached to a task.
type Decision struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id"`
	Summary   string    `json:"summary"`
	Rationale string    `json:"rationale,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactKind tags the shape of an Artifact's structured payload.
type ArtifactKind string

const (
	ArtifactKindGeneric ArtifactKind = "generic"
	ArtifactKindReview  ArtifactKind = "review"
)

// Artifact is a log_artifact entry: a durable output pointer with an
// optional structured review payload.
type Artifact struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	TaskID    string          `json:"task_id,omitempty"`
	AgentID   string          `json:"agent_id"`
	Kind      ArtifactKind    `json:"kind"`
	Summary   string          `json:"summary"`
	Location  string          `json:"location,omitempty"`
	Findings  []ReviewFinding `json:"findings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReviewFinding is a structured entry inside a review-kind Artifact.
type ReviewFinding struct {
	Severity       string `json:"severity"`
	Category       string `json:"category"`
	Detail         string `json:"detail"`
	Recommendation string `json:"recommendation,omitempty"`
}

// TaskContext is the materialized, read-only view get_task_context
// returns: everything an agent needs to start work without further
// round trips.
type TaskContext struct {
	Task              Task              `json:"task"`
	Subtask           *Subtask          `json:"subtask,omitempty"`
	Ancestors         []Task            `json:"ancestors,omitempty"`
	Dependencies      []Task            `json:"dependencies,omitempty"`
	DependentTasks    []Task            `json:"dependent_tasks,omitempty"`
	Decisions         []Decision        `json:"decisions,omitempty"`
	Artifacts         []Artifact        `json:"artifacts,omitempty"`
	SharedConventions map[string]string `json:"shared_conventions,omitempty"`
	SiblingProvides   []string          `json:"sibling_provides,omitempty"`
	Truncated         bool              `json:"truncated"`
}

// DecompositionResult is what AIProvider.Decompose returns: proposed
// subtasks plus the shared conventions (base path, response format,
// naming convention, ...) extracted from the same response.
type DecompositionResult struct {
	Subtasks          []Subtask
	SharedConventions map[string]string
}

// DecompositionMetadata is persisted alongside a parent task's subtasks,
// the "metadata" row of spec.md §6's subtask persistence format.
type DecompositionMetadata struct {
	SharedConventions map[string]string `json:"shared_conventions,omitempty"`
	DecomposedAt      time.Time         `json:"decomposed_at"`
	DecomposedBy      string            `json:"decomposed_by"`
}

// AgentProfile is what register_agent records about a worker.
type AgentProfile struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Role            string    `json:"role,omitempty"`
	Skills          []string  `json:"skills,omitempty"`
	Capacity        int       `json:"capacity"`
	CurrentLeaseIDs []string  `json:"current_lease_ids,omitempty"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastSeen        time.Time `json:"last_seen"`
}

// DefaultAgentCapacity is the number of concurrent active leases an agent
// may hold when register_agent does not specify one.
const DefaultAgentCapacity = 1

// destructiveRoleAllowList names the roles C9's safety filter lets pull
// candidates labeled "destructive".
var destructiveRoleAllowList = map[string]bool{"maintainer": true, "lead": true}

// RoleMayTakeDestructive reports whether role is allowed to be assigned a
// task labeled "destructive" (spec.md §4.9 step 4).
func RoleMayTakeDestructive(role string) bool {
	return destructiveRoleAllowList[role]
}

// LeaseStatus tags a Lease's current lifecycle state.
type LeaseStatus string

const (
	LeaseActive    LeaseStatus = "active"
	LeaseRenewed   LeaseStatus = "renewed"
	LeaseStalled   LeaseStatus = "stalled"
	LeaseRecovered LeaseStatus = "recovered"
	LeaseCompleted LeaseStatus = "completed"
)

// Lease binds an agent to a task/subtask for a bounded time window.
type Lease struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	TaskID    string      `json:"task_id"`
	IsSubtask bool        `json:"is_subtask"`
	AgentID   string      `json:"agent_id"`
	Status    LeaseStatus `json:"status"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	// PreviousAgentID records who held the lease when it was recovered by
	// the stall monitor, for diagnostics. Complete does not consult it:
	// any report against a recovered lease is stale, including one from
	// this agent.
	PreviousAgentID string `json:"previous_agent_id,omitempty"`
	StallCount      int    `json:"stall_count"`
	Escalated       bool   `json:"escalated"`
}

// FeatureFlag is the upgraded (never-bare-bool) shape every feature
// toggle in ProjectConfig takes.
type FeatureFlag struct {
	Enabled bool           `json:"enabled"`
	Options map[string]any `json:"options,omitempty"`
}

// ProjectConfig holds per-project tunables.
type ProjectConfig struct {
	MaxParallelAgents int                    `json:"max_parallel_agents"`
	LeaseTick         time.Duration          `json:"lease_tick"`
	LeaseTTL          time.Duration          `json:"lease_ttl"`
	MaxContextDepth   int                    `json:"max_context_depth"`
	GridlockWindow    int                    `json:"gridlock_window"`
	GridlockCooldown  time.Duration          `json:"gridlock_cooldown"`
	AutoDecompose     FeatureFlag            `json:"auto_decompose"`
	AIInference       FeatureFlag            `json:"ai_inference"`
	Features          map[string]FeatureFlag `json:"features,omitempty"`
}

// DefaultProjectConfig mirrors the teacher's DefaultConfig()-style
// constructor: sane baseline values a new project starts with.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		MaxParallelAgents: 5,
		LeaseTick:         30 * time.Second,
		LeaseTTL:          20 * time.Minute,
		MaxContextDepth:   3,
		GridlockWindow:    5,
		GridlockCooldown:  10 * time.Minute,
		AutoDecompose:     FeatureFlag{Enabled: true},
		AIInference:       FeatureFlag{Enabled: true},
		Features:          map[string]FeatureFlag{},
	}
}

// Outcome is one recorded result of an agent completing (or abandoning)
// a task/subtask, feeding the outcome learner.
type Outcome struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id"`
	TaskID     string        `json:"task_id"`
	AgentID    string        `json:"agent_id"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Reason     string        `json:"reason,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Event is one entry on the event bus / history ring buffer.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	ProjectID string    `json:"project_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectStatus is the active-project state machine's state tag.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project is one registered coordination target.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status"`
	Config    ProjectConfig `json:"config"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewProject mirrors the teacher's NewBoard(): construct a project with
// defaults filled in, never leaving zero-value config for callers to
// trip on.
func NewProject(id, name string) *Project {
	now := time.Now()
	return &Project{
		ID:        id,
		Name:      name,
		Status:    ProjectActive,
		Config:    DefaultProjectConfig(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SortTasksByPriority sorts in place, most urgent first, stable on ties
// by CreatedAt — the same discipline as the teacher's
// GetTicketsByStatus sort.
func SortTasksByPriority(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// SortSubtasksByOrder sorts in place by (Order, Priority) — grounded on
// the teacher's GetTicketsByParent (ParallelGroup then Priority).
func SortSubtasksByOrder(subtasks []Subtask) {
	sort.SliceStable(subtasks, func(i, j int) bool {
		if subtasks[i].Order != subtasks[j].Order {
			return subtasks[i].Order < subtasks[j].Order
		}
		return subtasks[i].Priority.Rank() < subtasks[j].Priority.Rank()
	})
}
