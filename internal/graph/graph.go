// Package graph implements C4, the task graph validator: orphan
// removal, cycle-breaking, and final-task backfill over a project's
// dependency graph. Grounded on kanban/conflict.go's style of pure,
// read-only analysis functions that return derived results for the
// caller to apply rather than mutating shared state directly; cycle
// detection itself has no teacher analog and is written fresh as a
// bounded-pass DFS.
package graph

import (
	"fmt"

	"github.com/marcus-ai/marcus-core/internal/marcuserr"
	"github.com/marcus-ai/marcus-core/kanban"
)

const maxRepairPasses = 10

// Result is what Validate returns: the (possibly repaired) edge set plus
// a human-readable log of what was changed, for diagnose/audit.
type Result struct {
	Edges    []kanban.DependencyEdge
	Warnings []string
}

// Validate removes edges referencing unknown nodes, breaks cycles by
// dropping the edge that closes each detected cycle (findCycleClosingEdge;
// bounded at maxRepairPasses passes), and reports via Warnings. It never mutates
// the input graph.
func Validate(nodes []string, edges []kanban.DependencyEdge) (Result, error) {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n] = true
	}

	var warnings []string
	kept := make([]kanban.DependencyEdge, 0, len(edges))
	for _, e := range edges {
		if !known[e.From] || !known[e.To] {
			warnings = append(warnings, fmt.Sprintf("dropped orphan edge %s -> %s", e.From, e.To))
			continue
		}
		if e.From == e.To {
			warnings = append(warnings, fmt.Sprintf("dropped self-dependency %s -> %s", e.From, e.To))
			continue
		}
		kept = append(kept, e)
	}

	for pass := 0; pass < maxRepairPasses; pass++ {
		closingFrom, closingTo, found := findCycleClosingEdge(nodes, kept)
		if !found {
			return Result{Edges: kept, Warnings: warnings}, nil
		}
		idx := indexOfEdge(kept, closingFrom, closingTo)
		if idx < 0 {
			break
		}
		warnings = append(warnings, fmt.Sprintf("Broke circular dependency: removed link from %s to %s", closingFrom, closingTo))
		kept = append(kept[:idx], kept[idx+1:]...)
	}

	if _, _, found := findCycleClosingEdge(nodes, kept); found {
		return Result{}, marcuserr.New(marcuserr.KindUnfixableGraph, "could not repair dependency graph within bounded passes")
	}
	return Result{Edges: kept, Warnings: warnings}, nil
}

// findCycleClosingEdge runs DFS with a recursion-stack marker and
// returns the edge that closes the first detected cycle back onto an
// ancestor still on the DFS stack — spec.md §4.4 step 2's "last edge of
// the detected cycle path (edge closing the cycle)" — rather than the
// lowest-confidence edge on the cycle, so cycle-breaking is deterministic
// regardless of edge confidence values.
func findCycleClosingEdge(nodes []string, edges []kanban.DependencyEdge) (from, to string, found bool) {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	var closingFrom, closingTo string
	var closed bool
	var dfs func(n string) bool
	dfs = func(n string) bool {
		color[n] = gray
		for _, next := range adj[n] {
			switch color[next] {
			case white:
				if dfs(next) {
					return true
				}
			case gray:
				closingFrom, closingTo = n, next
				closed = true
				return true
			}
		}
		color[n] = black
		return false
	}

	for _, n := range nodes {
		if color[n] == white {
			if dfs(n) {
				return closingFrom, closingTo, closed
			}
		}
	}
	return "", "", false
}

// indexOfEdge returns the index of the (from, to) edge within edges, or
// -1 if absent.
func indexOfEdge(edges []kanban.DependencyEdge, from, to string) int {
	for i, e := range edges {
		if e.From == from && e.To == to {
			return i
		}
	}
	return -1
}

// BackfillFinalTask implements spec.md §4.4 step 3: every non-final task
// id is added to finalTaskID's dependencies, regardless of whether it
// already has some other dependent, so the final task is always
// reachable from (depends on) the entire task set. It returns the
// additional edges to persist, skipping any that already exist.
func BackfillFinalTask(nodes []string, edges []kanban.DependencyEdge, finalTaskID string) []kanban.DependencyEdge {
	if finalTaskID == "" {
		return nil
	}
	existing := make(map[string]bool, len(edges))
	for _, e := range edges {
		existing[e.From+"\x00"+e.To] = true
	}
	var added []kanban.DependencyEdge
	for _, n := range nodes {
		if n == finalTaskID || existing[finalTaskID+"\x00"+n] {
			continue
		}
		added = append(added, kanban.DependencyEdge{From: finalTaskID, To: n, Confidence: 1.0, Source: "auto-backfill"})
	}
	return added
}
