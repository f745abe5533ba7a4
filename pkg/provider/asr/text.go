package asr

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Text is a Provider for clients that do their own recognition and upload
// text/plain. It returns the body unchanged with confidence 1.
type Text struct{}

// Transcribe implements Provider.
func (Text) Transcribe(_ context.Context, audio []byte, mimeType string) (Transcript, error) {
	if mt, _ := MediaType(mimeType); mt != MIMEText {
		return Transcript{}, fmt.Errorf("asr: text passthrough: %q: %w", mimeType, ErrUnsupportedFormat)
	}
	if !utf8.Valid(audio) {
		return Transcript{}, fmt.Errorf("asr: text passthrough: body is not UTF-8: %w", ErrUnsupportedFormat)
	}
	return Transcript{Text: strings.TrimSpace(string(audio)), Confidence: 1}, nil
}

var _ Provider = Text{}
