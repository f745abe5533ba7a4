package resilience

import (
	"context"

	"github.com/DanielWill-1/audentra/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with failover across recognizers.
// Every entry should accept the same audio formats: a format error counts
// against the entry that raised it.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state per backend.
func (f *ASRFallback) States() map[string]State { return f.group.States() }

// Transcribe converts audio using the first healthy recognizer.
func (f *ASRFallback) Transcribe(ctx context.Context, audio []byte, mimeType string) (asr.Transcript, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (asr.Transcript, error) {
		return p.Transcribe(ctx, audio, mimeType)
	})
}
