// Package llmparaphrase rewrites the composer's template replies with a
// language model so they sound less mechanical.
//
// The model is told to keep every listed value verbatim. The composer checks
// that independently and falls back to the template on any violation, so this
// package only has to deliver a candidate.
package llmparaphrase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DanielWill-1/audentra/pkg/provider/llm"
)

const (
	defaultTemperature = 0.4
	defaultMaxTokens   = 200
)

const systemPrompt = `You are the voice of a friendly assistant that helps people fill in a form by talking.

Rewrite the assistant reply you are given so it sounds natural when spoken aloud.

Rules:
- Keep the meaning and every question exactly. Do not add or remove questions.
- Copy each of the following values character for character: %s
- Do not invent information, do not greet, do not apologise unless the reply does.
- Keep it short: at most two sentences longer than the original.

Respond with ONLY the rewritten reply as plain text (no markdown, no quotes).`

var errEmpty = errors.New("llmparaphrase: empty response")

// Option is a functional option for configuring a [Paraphraser].
type Option func(*Paraphraser)

// WithTemperature sets the LLM sampling temperature. Default: 0.4.
func WithTemperature(temp float64) Option {
	return func(p *Paraphraser) {
		p.temperature = temp
	}
}

// WithMaxTokens caps the length of the rewritten reply. Default: 200.
func WithMaxTokens(n int) Option {
	return func(p *Paraphraser) {
		p.maxTokens = n
	}
}

// Paraphraser uses an [llm.Provider] to rephrase replies. It is safe for
// concurrent use.
type Paraphraser struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// New returns a Paraphraser backed by provider.
func New(provider llm.Provider, opts ...Option) *Paraphraser {
	p := &Paraphraser{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Paraphrase returns a rewritten version of baseline. keep lists values that
// must survive verbatim.
func (p *Paraphraser) Paraphrase(ctx context.Context, baseline string, keep []string) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPrompt, quoteList(keep)),
		Temperature:  p.temperature,
		MaxTokens:    p.maxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: baseline},
		},
	}

	resp, err := p.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llmparaphrase: complete: %w", err)
	}
	if resp == nil {
		return "", errEmpty
	}
	text := clean(resp.Content)
	if text == "" {
		return "", errEmpty
	}
	return text, nil
}

func quoteList(keep []string) string {
	if len(keep) == 0 {
		return "(none)"
	}
	quoted := make([]string, len(keep))
	for i, k := range keep {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return strings.Join(quoted, ", ")
}

// clean removes code fences and wrapping quotes some models add.
func clean(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```text", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
