package graph

import (
	"testing"

	"github.com/marcus-ai/marcus-core/kanban"
)

func TestValidateDropsOrphanEdges(t *testing.T) {
	nodes := []string{"a", "b"}
	edges := []kanban.DependencyEdge{
		{From: "a", To: "b", Confidence: 0.9},
		{From: "a", To: "ghost", Confidence: 0.9},
	}
	res, err := Validate(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Edges) != 1 {
		t.Fatalf("want 1 surviving edge, got %d (%v)", len(res.Edges), res.Edges)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("want 1 warning, got %d", len(res.Warnings))
	}
}

func TestValidateDropsSelfDependency(t *testing.T) {
	nodes := []string{"a"}
	edges := []kanban.DependencyEdge{{From: "a", To: "a", Confidence: 1}}
	res, err := Validate(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Edges) != 0 {
		t.Fatalf("want self-dependency dropped, got %v", res.Edges)
	}
}

// TestValidateBreaksCycle verifies spec.md §4.4 step 2 and the literal
// S2 scenario: for cycle A->B->C->A, the edge closing the cycle (C->A)
// is removed deterministically, regardless of edge confidence, and the
// warning names both endpoints in the required wording.
func TestValidateBreaksCycle(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	edges := []kanban.DependencyEdge{
		{From: "a", To: "b", Confidence: 0.1}, // lowest confidence, but NOT the closing edge
		{From: "b", To: "c", Confidence: 0.9},
		{From: "c", To: "a", Confidence: 0.9}, // closes the cycle back onto "a"
	}
	res, err := Validate(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Edges) != 2 {
		t.Fatalf("want cycle broken down to 2 edges, got %d (%v)", len(res.Edges), res.Edges)
	}
	for _, e := range res.Edges {
		if e.From == "c" && e.To == "a" {
			t.Fatalf("expected the cycle-closing edge c->a to be dropped, but it survived")
		}
	}
	wantWarning := "Broke circular dependency: removed link from c to a"
	found := false
	for _, w := range res.Warnings {
		if w == wantWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("want warning %q, got %v", wantWarning, res.Warnings)
	}
	if _, _, found := findCycleClosingEdge(nodes, res.Edges); found {
		t.Fatalf("graph still contains a cycle after repair")
	}
}

// TestBackfillFinalTask verifies spec.md §4.4 step 3: every non-final
// task is added to the final task's dependencies regardless of whether
// it already has some other dependent.
func TestBackfillFinalTask(t *testing.T) {
	nodes := []string{"a", "b", "final"}
	edges := []kanban.DependencyEdge{{From: "b", To: "a", Confidence: 1}}
	added := BackfillFinalTask(nodes, edges, "final")
	if len(added) != 2 {
		t.Fatalf("want both non-final tasks backfilled regardless of existing dependents, got %v", added)
	}
	var gotA, gotB bool
	for _, e := range added {
		if e.From != "final" {
			t.Fatalf("want all backfilled edges to originate from final, got %+v", e)
		}
		switch e.To {
		case "a":
			gotA = true
		case "b":
			gotB = true
		}
	}
	if !gotA || !gotB {
		t.Fatalf("want both a and b backfilled, got %v", added)
	}
}
