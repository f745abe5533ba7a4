package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/DanielWill-1/audentra/pkg/provider/asr"
	"github.com/DanielWill-1/audentra/pkg/provider/llm"
	"github.com/DanielWill-1/audentra/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]func(ProviderEntry) (asr.Provider, error)
	tts map[string]func(ProviderEntry) (tts.Provider, error)
	llm map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr: make(map[string]func(ProviderEntry) (asr.Provider, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Provider, error)),
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// RegisterASR registers a speech recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateASR instantiates a recognizer using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Provider, error) {
	return create(r, r.asr, "asr", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

func create[P any](r *Registry, factories map[string]func(ProviderEntry) (P, error), kind string, entry ProviderEntry) (P, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
