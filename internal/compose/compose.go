// Package compose renders the assistant's reply for one turn.
//
// The [Composer] always produces a deterministic baseline from fixed
// templates. An optional [Paraphraser] may rewrite the baseline for tone; it
// is bounded by a timeout, retried at most once, and its output is discarded
// unless it still contains every value the baseline mentions. A failing or
// slow paraphraser therefore never changes what the user is told, only how.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/DanielWill-1/audentra/pkg/form"
)

// Fixed sentences.
const (
	CompleteText  = "Thanks, I have everything I need."
	ClosedText    = "This session has ended."
	RepeatText    = "Sorry, I didn't catch that."
	defaultTimout = 2 * time.Second
)

// Paraphraser rewrites a baseline reply. keep lists substrings that must
// appear verbatim in the result.
//
// Implementations must be safe for concurrent use.
type Paraphraser interface {
	Paraphrase(ctx context.Context, baseline string, keep []string) (string, error)
}

// Response is the rendered reply for one turn.
type Response struct {
	// Text is what should be said to the user: the paraphrase when one was
	// accepted, otherwise Baseline.
	Text string `json:"text"`

	// Baseline is the deterministic template rendering.
	Baseline string `json:"baseline"`

	Action           form.Action `json:"action"`
	FollowUpFieldIDs []string    `json:"follow_up_field_ids"`
	Paraphrased      bool        `json:"paraphrased"`
}

// Option is a functional option for [New].
type Option func(*Composer)

// WithParaphraser enables post-processing of the baseline by p.
func WithParaphraser(p Paraphraser) Option {
	return func(c *Composer) {
		c.paraphraser = p
	}
}

// WithParaphraseTimeout bounds each paraphrase attempt. Default: 2s.
func WithParaphraseTimeout(d time.Duration) Option {
	return func(c *Composer) {
		c.timeout = d
	}
}

// WithParaphraseObserver registers a callback invoked after every paraphrase
// attempt with its duration and error, if any.
func WithParaphraseObserver(fn func(d time.Duration, err error)) Option {
	return func(c *Composer) {
		c.observe = fn
	}
}

// Composer is safe for concurrent use.
type Composer struct {
	paraphraser Paraphraser
	timeout     time.Duration
	observe     func(time.Duration, error)
}

// New returns a Composer. Without options it only renders baselines.
func New(opts ...Option) *Composer {
	c := &Composer{timeout: defaultTimout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compose renders the reply to a turn: one confirmation per newly merged
// field, then the questions for d.
func (c *Composer) Compose(ctx context.Context, s form.Session, d form.Decision, merged []string) Response {
	var parts, keep []string
	for _, id := range merged {
		if _, open := s.Contradictions[id]; open {
			continue
		}
		f, ok := s.Field(id)
		fv, has := s.Values[id]
		if !ok || !has || fv.Value.IsZero() {
			continue
		}
		v := fv.Value.String()
		parts = append(parts, fmt.Sprintf("Recorded %s: %s.", f.DisplayLabel(), v))
		keep = append(keep, v)
	}
	q, qkeep := question(s, d)
	parts = append(parts, q)
	keep = append(keep, qkeep...)

	return c.finish(ctx, s.ID, strings.Join(parts, " "), d, keep)
}

// Repeat renders the reply to a turn that produced no usable text: a request
// to repeat followed by the questions for d. The once-per-field optional
// prompt is held back for a recorded turn, so a confirm_optional decision
// only asks to repeat and carries no follow-up fields.
func (c *Composer) Repeat(ctx context.Context, s form.Session, d form.Decision) Response {
	text := RepeatText
	var keep []string
	switch d.Action {
	case form.ActionComplete:
	case form.ActionConfirmOptional:
		d.TargetFieldIDs = nil
	default:
		q, qkeep := question(s, d)
		text += " " + q
		keep = qkeep
	}
	return c.finish(ctx, s.ID, text, d, keep)
}

func (c *Composer) finish(ctx context.Context, sessionID, baseline string, d form.Decision, keep []string) Response {
	r := Response{
		Text:             baseline,
		Baseline:         baseline,
		Action:           d.Action,
		FollowUpFieldIDs: slices.Clone(d.TargetFieldIDs),
	}
	if r.FollowUpFieldIDs == nil {
		r.FollowUpFieldIDs = []string{}
	}
	if c.paraphraser == nil {
		return r
	}
	if text, ok := c.paraphrase(ctx, sessionID, baseline, keep); ok {
		r.Text = text
		r.Paraphrased = true
	}
	return r
}

// paraphrase tries the paraphraser at most twice.
func (c *Composer) paraphrase(ctx context.Context, sessionID, baseline string, keep []string) (string, bool) {
	for attempt := 1; attempt <= 2; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		text, err := c.paraphraser.Paraphrase(pctx, baseline, keep)
		cancel()
		if c.observe != nil {
			c.observe(time.Since(start), err)
		}
		if err != nil {
			slog.Debug("compose: paraphrase failed", "session_id", sessionID, "attempt", attempt, "err", err)
			if ctx.Err() != nil {
				return "", false
			}
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" || !containsAll(text, keep) {
			slog.Debug("compose: paraphrase rejected", "session_id", sessionID, "attempt", attempt)
			return "", false
		}
		return text, true
	}
	return "", false
}

func containsAll(text string, keep []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keep {
		if !strings.Contains(lower, strings.ToLower(k)) {
			return false
		}
	}
	return true
}

// question renders the question part of a reply and returns the values it
// mentions.
func question(s form.Session, d form.Decision) (string, []string) {
	if s.Status == form.StatusAbandoned {
		return ClosedText, nil
	}

	var parts, keep []string
	for _, id := range d.TargetFieldIDs {
		f, ok := s.Field(id)
		if !ok {
			continue
		}
		label := f.DisplayLabel()
		switch d.Action {
		case form.ActionAskClarification:
			c := s.Contradictions[id]
			alts := make([]string, len(c.Values))
			for i, v := range c.Values {
				alts[i] = v.String()
			}
			keep = append(keep, alts...)
			parts = append(parts, clarification(label, alts))

		case form.ActionAskRequired:
			parts = append(parts, ask(f))
			keep = append(keep, f.Options...)

		case form.ActionConfirmOptional:
			parts = append(parts, fmt.Sprintf("If you like, you can also tell me your %s.", label))
		}
	}
	if d.Action == form.ActionComplete || len(parts) == 0 {
		return CompleteText, nil
	}
	return strings.Join(parts, " "), keep
}

func clarification(label string, alts []string) string {
	switch len(alts) {
	case 0, 1:
		return fmt.Sprintf("Could you confirm your %s?", label)
	case 2:
		return fmt.Sprintf("I heard two different values for %s — which is correct: %s or %s?", label, alts[0], alts[1])
	default:
		return fmt.Sprintf("I heard several different values for %s — which is correct: %s or %s?",
			label, strings.Join(alts[:len(alts)-1], ", "), alts[len(alts)-1])
	}
}

func ask(f form.FieldSpec) string {
	label := f.DisplayLabel()
	switch f.Type {
	case form.TypeSelect, form.TypeRadio:
		return fmt.Sprintf("For %s, please choose one of: %s.", label, strings.Join(f.Options, ", "))
	case form.TypeCheckbox:
		return fmt.Sprintf("For %s, which of these apply: %s?", label, strings.Join(f.Options, ", "))
	case form.TypeTextarea:
		return fmt.Sprintf("Please describe your %s.", label)
	default:
		return fmt.Sprintf("What is your %s?", label)
	}
}
