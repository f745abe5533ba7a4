// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply into one audio clip. The engine treats
// synthesis as optional: a failing provider degrades the turn to text only.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when there is nothing to synthesise.
var ErrEmptyText = errors.New("tts: empty text")

// VoiceConfig selects and tunes the voice for one synthesis request.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier. Empty selects the
	// provider's configured default.
	VoiceID string

	// Stability and SimilarityBoost are forwarded to providers that support
	// them (0 keeps the provider default).
	Stability       float64
	SimilarityBoost float64
}

// Audio is a synthesised clip.
type Audio struct {
	Data []byte

	// MIMEType describes Data, e.g. "audio/L16; rate=16000; channels=1" or
	// "audio/mpeg".
	MIMEType string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice. Returns ErrEmptyText for blank
	// input.
	Synthesize(ctx context.Context, text string, voice VoiceConfig) (Audio, error)
}
