package tts

import (
	"context"
	"strings"
)

// Text is a Provider for clients that speak replies themselves. It returns
// the reply as a text/plain body.
type Text struct{}

// Synthesize implements Provider.
func (Text) Synthesize(_ context.Context, text string, _ VoiceConfig) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	return Audio{Data: []byte(text), MIMEType: "text/plain; charset=utf-8"}, nil
}

var _ Provider = Text{}
