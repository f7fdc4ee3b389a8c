// Package depinfer implements C5, the dependency inferer: a fast
// pattern-rule pass grounded on kanban/conflict.go's normalized-token
// overlap matching (filesOverlap/patternsOverlap), followed by an
// AI-hybrid pass for ambiguous pairs via providers/aiprovider, cached
// in-memory per spec.md §9 Open Question 1.
package depinfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/marcus-ai/marcus-core/kanban"
)

// AIProvider is the narrow capability depinfer needs from
// providers/aiprovider — kept separate from the full provider interface
// so this package has no import-time dependency on concrete providers.
type AIProvider interface {
	InferDependencies(ctx context.Context, a, b kanban.Task) (depends bool, confidence float64, err error)
}

// Rule is one entry in the pattern catalog: two (action, entity) pairs
// where the presence of both implies a directional dependency.
type Rule struct {
	ActionA, EntityA string
	ActionB, EntityB string
	Confidence       float64
}

// DefaultRules is a small, general-purpose starter catalog; projects may
// extend it via Inferer.AddRule.
var DefaultRules = []Rule{
	{ActionA: "design", EntityA: "schema", ActionB: "implement", EntityB: "migration", Confidence: 0.9},
	{ActionA: "implement", EntityA: "api", ActionB: "write", EntityB: "client", Confidence: 0.85},
	{ActionA: "define", EntityA: "interface", ActionB: "implement", EntityB: "", Confidence: 0.8},
}

var fold = cases.Fold(cases.Compact)

func init() {
	// cases.Fold folds with the und (root) locale; language.Und is only
	// referenced here, no normalization call in this package takes a
	// language tag.
	_ = language.Und
}

type cacheEntry struct {
	depends    bool
	confidence float64
}

// Inferer runs the two-pass inference pipeline.
type Inferer struct {
	mu       sync.Mutex
	rules    []Rule
	cache    map[string]cacheEntry
	provider AIProvider
}

// New constructs an Inferer with the default rule catalog and an AI
// fallback provider (may be nil to skip pass B entirely).
func New(provider AIProvider) *Inferer {
	return &Inferer{
		rules:    append([]Rule{}, DefaultRules...),
		cache:    make(map[string]cacheEntry),
		provider: provider,
	}
}

// AddRule appends a project-specific pattern rule.
func (inf *Inferer) AddRule(r Rule) {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	inf.rules = append(inf.rules, r)
}

func normalize(s string) string {
	return fold.String(s)
}

// matchPattern reports whether task's title+description mentions the
// given action and entity, case/locale-folded.
func matchPattern(task kanban.Task, action, entity string) bool {
	text := normalize(task.Title + " " + task.Description)
	if action != "" && !contains(text, normalize(action)) {
		return false
	}
	if entity != "" && !contains(text, normalize(entity)) {
		return false
	}
	return true
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

// InferPairPassA checks the pattern catalog for a directional dependency
// between a and b. It returns ok=false when no rule matches, signaling
// the caller should escalate to pass B.
func (inf *Inferer) InferPairPassA(a, b kanban.Task) (edge kanban.DependencyEdge, ok bool) {
	inf.mu.Lock()
	rules := append([]Rule{}, inf.rules...)
	inf.mu.Unlock()

	for _, r := range rules {
		if matchPattern(a, r.ActionA, r.EntityA) && matchPattern(b, r.ActionB, r.EntityB) {
			return kanban.DependencyEdge{From: b.ID, To: a.ID, Confidence: r.Confidence, Source: "pattern"}, true
		}
	}
	return kanban.DependencyEdge{}, false
}

func cacheKey(a, b kanban.Task) string {
	h := sha256.New()
	h.Write([]byte(a.ID))
	h.Write([]byte(a.Description))
	h.Write([]byte(b.ID))
	h.Write([]byte(b.Description))
	return hex.EncodeToString(h.Sum(nil))
}

// InferPairPassB escalates an ambiguous pair to the AI provider, caching
// the result in-memory (not persisted, per DESIGN.md's Open Question 1
// decision) keyed on a hash of both descriptions so edits invalidate the
// cache entry automatically.
func (inf *Inferer) InferPairPassB(ctx context.Context, a, b kanban.Task) (kanban.DependencyEdge, bool, error) {
	if inf.provider == nil {
		return kanban.DependencyEdge{}, false, nil
	}
	key := cacheKey(a, b)

	inf.mu.Lock()
	if cached, ok := inf.cache[key]; ok {
		inf.mu.Unlock()
		if !cached.depends {
			return kanban.DependencyEdge{}, false, nil
		}
		return kanban.DependencyEdge{From: b.ID, To: a.ID, Confidence: cached.confidence, Source: "ai"}, true, nil
	}
	inf.mu.Unlock()

	depends, confidence, err := inf.provider.InferDependencies(ctx, a, b)
	if err != nil {
		return kanban.DependencyEdge{}, false, err
	}

	inf.mu.Lock()
	inf.cache[key] = cacheEntry{depends: depends, confidence: confidence}
	inf.mu.Unlock()

	if !depends {
		return kanban.DependencyEdge{}, false, nil
	}
	return kanban.DependencyEdge{From: b.ID, To: a.ID, Confidence: confidence, Source: "ai"}, true, nil
}

// InferAll runs pass A over every pair, escalating unmatched,
// non-identical pairs to pass B, and returns every inferred edge. Pass B
// walks the ambiguous pairs in chunks of 20, but the provider is called
// once per pair (through InferPairPassB and its cache); no request
// carries more than one pair.
func (inf *Inferer) InferAll(ctx context.Context, tasks []kanban.Task) ([]kanban.DependencyEdge, error) {
	var edges []kanban.DependencyEdge
	var ambiguous [][2]kanban.Task

	for i := range tasks {
		for j := range tasks {
			if i == j {
				continue
			}
			if edge, ok := inf.InferPairPassA(tasks[i], tasks[j]); ok {
				edges = append(edges, edge)
				continue
			}
			ambiguous = append(ambiguous, [2]kanban.Task{tasks[i], tasks[j]})
		}
	}

	const batchSize = 20
	for i := 0; i < len(ambiguous); i += batchSize {
		end := i + batchSize
		if end > len(ambiguous) {
			end = len(ambiguous)
		}
		for _, pair := range ambiguous[i:end] {
			edge, ok, err := inf.InferPairPassB(ctx, pair[0], pair[1])
			if err != nil {
				continue // provider errors degrade to "no inferred edge", never fail the batch
			}
			if ok {
				edges = append(edges, edge)
			}
		}
	}
	return edges, nil
}
