// Package mock provides a test double for the asr.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/DanielWill-1/audentra/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Audio    []byte
	MIMEType string
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe.
	Result asr.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(_ context.Context, audio []byte, mimeType string) (asr.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Audio: append([]byte(nil), audio...), MIMEType: mimeType})
	if p.Err != nil {
		return asr.Transcript{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ asr.Provider = (*Provider)(nil)
