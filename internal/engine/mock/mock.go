// Package mock provides a test double for [engine.LLMEnhancer].
//
// The mock records every call and returns the configured result. It is safe
// for concurrent use.
//
// Example:
//
//	enh := &mock.Enhancer{
//	    Result: []form.Candidate{{FieldID: "company", Value: form.TextValue("Acme"), Confidence: 0.9}},
//	}
//	eng := engine.New(st, engine.WithEnhancer(enh, time.Second))
package mock

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/DanielWill-1/audentra/internal/engine"
	"github.com/DanielWill-1/audentra/pkg/form"
)

// Compile-time interface assertion.
var _ engine.LLMEnhancer = (*Enhancer)(nil)

// ExtractCall records the arguments of a single [Enhancer.Extract] call.
type ExtractCall struct {
	Transcript string
	Fields     []form.FieldSpec
	Snapshot   map[string]form.FieldValue
}

// Enhancer is a mock implementation of [engine.LLMEnhancer].
type Enhancer struct {
	mu sync.Mutex

	// Result is returned by Extract. A copy is handed out on every call.
	Result []form.Candidate

	// Err is returned by Extract when non-nil.
	Err error

	// ExtractFunc, if set, takes precedence over Result and Err. It is
	// called without holding the mock's lock with the 1-based call number.
	ExtractFunc func(ctx context.Context, call int, transcript string) ([]form.Candidate, error)

	// ExtractCalls records all Extract invocations.
	ExtractCalls []ExtractCall
}

// Extract implements [engine.LLMEnhancer].
func (m *Enhancer) Extract(ctx context.Context, transcript string, fields []form.FieldSpec, snapshot map[string]form.FieldValue) ([]form.Candidate, error) {
	m.mu.Lock()
	m.ExtractCalls = append(m.ExtractCalls, ExtractCall{
		Transcript: transcript,
		Fields:     slices.Clone(fields),
		Snapshot:   maps.Clone(snapshot),
	})
	n := len(m.ExtractCalls)
	fn := m.ExtractFunc
	res, err := slices.Clone(m.Result), m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, n, transcript)
	}
	return res, err
}

// Calls returns a snapshot of the recorded calls.
func (m *Enhancer) Calls() []ExtractCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ExtractCalls)
}

// CallCount returns the number of Extract calls so far.
func (m *Enhancer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ExtractCalls)
}
