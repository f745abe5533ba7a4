package resilience

import (
	"context"
	"errors"

	"github.com/DanielWill-1/audentra/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state per backend.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// Synthesize renders text with the first healthy provider. Empty text is
// rejected without touching any backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (tts.Audio, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Audio, error) {
		a, err := p.Synthesize(ctx, text, voice)
		if errors.Is(err, tts.ErrEmptyText) {
			return a, Permanent(err)
		}
		return a, err
	})
}
