package depinfer

import (
	"context"
	"testing"

	"github.com/marcus-ai/marcus-core/kanban"
)

func TestPassAMatchesPatternRule(t *testing.T) {
	inf := New(nil)
	schema := kanban.Task{ID: "a", Title: "design schema", Description: "design the schema for users"}
	migration := kanban.Task{ID: "b", Title: "implement migration", Description: "implement the migration for users"}

	edge, ok := inf.InferPairPassA(schema, migration)
	if !ok {
		t.Fatal("expected pattern rule to match design-schema -> implement-migration")
	}
	if edge.From != migration.ID || edge.To != schema.ID {
		t.Fatalf("want migration depends on schema, got %+v", edge)
	}
}

type stubAIProvider struct {
	depends    bool
	confidence float64
	calls      int
}

func (s *stubAIProvider) InferDependencies(_ context.Context, _, _ kanban.Task) (bool, float64, error) {
	s.calls++
	return s.depends, s.confidence, nil
}

func TestPassBCachesResult(t *testing.T) {
	stub := &stubAIProvider{depends: true, confidence: 0.7}
	inf := New(stub)

	a := kanban.Task{ID: "a", Description: "do something unusual"}
	b := kanban.Task{ID: "b", Description: "do something else unusual"}

	edge, ok, err := inf.InferPairPassB(context.Background(), a, b)
	if err != nil || !ok {
		t.Fatalf("InferPairPassB: ok=%v err=%v", ok, err)
	}
	if edge.Confidence != 0.7 {
		t.Fatalf("want confidence 0.7, got %f", edge.Confidence)
	}

	if _, _, err := inf.InferPairPassB(context.Background(), a, b); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("want provider called exactly once thanks to caching, got %d", stub.calls)
	}
}
