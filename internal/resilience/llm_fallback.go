package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/DanielWill-1/audentra/pkg/provider/llm"
)

// ErrEmptyCompletion is reported when a backend answers with no content. It
// counts as a failure so the next backend gets a chance.
var ErrEmptyCompletion = errors.New("resilience: empty completion")

// LLMFallback is an [llm.Provider] that spreads completions over several
// backends, each guarded by its own breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state per backend.
func (f *LLMFallback) States() map[string]State { return f.group.States() }

// Complete returns the first non-empty completion from a healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return nil, ErrEmptyCompletion
		}
		return resp, nil
	})
}
