// Package asr defines the Provider interface for speech recognition backends.
//
// A turn of the conversation arrives either as text or as one recorded
// utterance. An ASR provider turns that recording into a [Transcript]; it is
// a batch interface, one call per utterance.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"
	"errors"
	"mime"
	"strings"
)

// Common media types.
const (
	MIMEText = "text/plain"
	MIMEWAV  = "audio/wav"
	MIMEL16  = "audio/L16"
)

// ErrUnsupportedFormat is returned when a provider cannot decode the given
// media type.
var ErrUnsupportedFormat = errors.New("asr: unsupported audio format")

// Transcript is the recognised text of one utterance.
type Transcript struct {
	// Text is the recognised text. Empty when nothing was said.
	Text string

	// Confidence is the recogniser's confidence in [0, 1]. Providers that do
	// not report one use 1.
	Confidence float64
}

// Provider is the abstraction over any ASR backend.
type Provider interface {
	// Transcribe recognises audio encoded as mimeType. Returns
	// ErrUnsupportedFormat for media types the provider cannot decode.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Transcript, error)
}

// MediaType returns the lower-cased media type of mimeType without
// parameters, and the parameters. An unparsable value yields its trimmed,
// lower-cased form and no parameters.
func MediaType(mimeType string) (string, map[string]string) {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt, _, _ = strings.Cut(mimeType, ";")
		return strings.ToLower(strings.TrimSpace(mt)), nil
	}
	return strings.ToLower(mt), params
}
