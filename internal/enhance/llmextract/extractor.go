// Package llmextract proposes field values from free-form speech with a
// language model.
//
// It complements the rule-based extractor for phrasings that no anchor or
// pattern covers. Its output is advisory: every candidate is capped below the
// confidence of the deterministic matchers, validated against the field
// schema, and tagged with [form.SourceLLM]. A response that cannot be parsed
// yields no candidates and no error.
package llmextract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DanielWill-1/audentra/pkg/form"
	"github.com/DanielWill-1/audentra/pkg/provider/llm"
)

const (
	defaultTemperature    = 0.0
	defaultMaxConfidence  = 0.7
	defaultFallbackConfid = 0.6
)

const systemPrompt = `You extract form field values from one spoken user turn.

The form has these fields (id | type | label | options):
%s
Values already recorded (do not repeat them unless the user changes them):
%s
Rules:
- Only report a field when the user clearly states its value in this turn.
- For select and radio fields answer with exactly one of the listed options.
- For checkbox fields answer with a list of listed options.
- For date fields prefer YYYY-MM-DD when the year is known.
- Never guess. If nothing is stated, return an empty list.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"fields": [{"id": "<field id>", "value": "<value>", "confidence": <0.0-1.0>}]}`

type llmResponse struct {
	Fields []struct {
		ID         string          `json:"id"`
		Value      json.RawMessage `json:"value"`
		Confidence float64         `json:"confidence"`
	} `json:"fields"`
}

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithTemperature sets the LLM sampling temperature. Default: 0.
func WithTemperature(temp float64) Option {
	return func(e *Extractor) {
		e.temperature = temp
	}
}

// WithMaxConfidence caps the confidence of every candidate. Default: 0.7.
func WithMaxConfidence(c float64) Option {
	return func(e *Extractor) {
		e.maxConfidence = form.ClampConfidence(c)
	}
}

// Extractor uses an [llm.Provider] to propose candidates. It is safe for
// concurrent use.
type Extractor struct {
	llm           llm.Provider
	temperature   float64
	maxConfidence float64
}

// New returns an Extractor backed by provider.
func New(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		llm:           provider,
		temperature:   defaultTemperature,
		maxConfidence: defaultMaxConfidence,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract asks the model for values stated in transcript. Locked fields are
// neither offered to the model nor accepted from it.
//
// Provider failures and context cancellation are returned as errors; an
// unusable response is not.
func (e *Extractor) Extract(ctx context.Context, transcript string, fields []form.FieldSpec, snapshot map[string]form.FieldValue) ([]form.Candidate, error) {
	open := make([]form.FieldSpec, 0, len(fields))
	for _, f := range fields {
		if fv, ok := snapshot[f.ID]; ok && fv.Locked {
			continue
		}
		open = append(open, f)
	}
	if len(open) == 0 || strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(open, snapshot),
		Temperature:  e.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: transcript},
		},
	}
	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llmextract: complete: %w", err)
	}
	if resp == nil {
		return nil, nil
	}

	cands, err := e.parseResponse(resp.Content, open)
	if err != nil {
		slog.Debug("llmextract: unusable response", "err", err)
		return nil, nil
	}
	return cands, nil
}

func buildSystemPrompt(fields []form.FieldSpec, snapshot map[string]form.FieldValue) string {
	var fs, known strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&fs, "- %s | %s | %s | %s\n", f.ID, f.Type, f.DisplayLabel(), strings.Join(f.Options, ", "))
		if fv, ok := snapshot[f.ID]; ok && !fv.Value.IsZero() {
			fmt.Fprintf(&known, "- %s: %s\n", f.ID, fv.Value.String())
		}
	}
	if known.Len() == 0 {
		known.WriteString("(none)\n")
	}
	return fmt.Sprintf(systemPrompt, fs.String(), known.String())
}

// parseResponse turns the model output into candidates. Entries for unknown
// fields or with values that fail schema validation are skipped.
func (e *Extractor) parseResponse(content string, fields []form.FieldSpec) ([]form.Candidate, error) {
	var r llmResponse
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &r); err != nil {
		return nil, fmt.Errorf("llmextract: parse response: %w", err)
	}

	byID := make(map[string]form.FieldSpec, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}

	seen := make(map[string]bool)
	var out []form.Candidate
	for _, item := range r.Fields {
		f, ok := byID[item.ID]
		if !ok || seen[item.ID] {
			continue
		}
		raw, ok := rawValue(item.Value)
		if !ok {
			continue
		}
		v, err := form.ParseValue(f, raw)
		if err != nil || v.IsZero() {
			continue
		}
		conf := item.Confidence
		if conf <= 0 || conf > 1 {
			conf = defaultFallbackConfid
		}
		seen[item.ID] = true
		out = append(out, form.Candidate{
			FieldID:    f.ID,
			Value:      v,
			Confidence: min(conf, e.maxConfidence),
			Source:     form.SourceLLM,
		})
	}
	return out, nil
}

// rawValue accepts a JSON string, number or list of strings.
func rawValue(msg json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s, true
	}
	var list []string
	if err := json.Unmarshal(msg, &list); err == nil {
		return strings.Join(list, ","), true
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
