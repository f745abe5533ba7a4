// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: tts.Audio{Data: []byte("pcm"), MIMEType: "audio/L16"}}
//	audio, _ := p.Synthesize(ctx, "Hello", tts.VoiceConfig{VoiceID: "v1"})
package mock

import (
	"context"
	"sync"

	"github.com/DanielWill-1/audentra/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceConfig
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize.
	Result tts.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Result, Err.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.Err != nil {
		return tts.Audio{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ tts.Provider = (*Provider)(nil)
