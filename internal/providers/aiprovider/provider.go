// Package aiprovider defines Marcus's AIProvider capability set:
// dependency inference, decomposition, and instruction generation,
// adapted directly from agents/provider/provider.go's Provider interface
// and BaseProvider usage tracker — kept nearly verbatim in shape, since
// both are "a narrow capability interface over a remote LLM, with a
// mutex-guarded usage aggregate anyone embedding it gets for free".
package aiprovider

import (
	"context"
	"errors"
	"sync"

	"github.com/marcus-ai/marcus-core/kanban"
)

// ErrProviderNotAvailable mirrors agents/provider.ErrProviderNotAvailable.
var ErrProviderNotAvailable = errors.New("aiprovider: provider not available")

// TokenUsage mirrors agents/provider.TokenUsage.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Calls            int
}

// Provider is the capability surface every concrete AI backend
// implements; internal/depinfer and internal/subtasks each depend on a
// narrower subset of this interface rather than the whole thing.
type Provider interface {
	Name() string
	Available() bool
	InferDependencies(ctx context.Context, a, b kanban.Task) (depends bool, confidence float64, err error)
	Decompose(ctx context.Context, task kanban.Task) (kanban.DecompositionResult, error)
	GenerateInstructions(ctx context.Context, tc kanban.TaskContext) (string, error)
	GetUsage() TokenUsage
	ResetUsage()
}

// BaseProvider is embeddable by concrete providers for mutex-guarded
// usage tracking, a direct port of agents/provider.BaseProvider.
type BaseProvider struct {
	mu    sync.Mutex
	usage TokenUsage
}

func (b *BaseProvider) TrackUsage(prompt, completion int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage.PromptTokens += prompt
	b.usage.CompletionTokens += completion
	b.usage.TotalTokens += prompt + completion
	b.usage.Calls++
}

func (b *BaseProvider) GetUsage() TokenUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

func (b *BaseProvider) ResetUsage() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = TokenUsage{}
}
