// Package policy decides what the assistant asks next.
package policy

import (
	"github.com/DanielWill-1/audentra/internal/state"
	"github.com/DanielWill-1/audentra/pkg/form"
)

// Per-turn prompt caps.
const (
	DefaultMaxClarifications = 1
	DefaultMaxRequired       = 2
	DefaultMaxOptional       = 1
)

// Option is a functional option for [New].
type Option func(*Policy)

// WithMaxClarifications caps clarification questions per turn.
func WithMaxClarifications(n int) Option {
	return func(p *Policy) { p.maxClarifications = n }
}

// WithMaxRequired caps required-field questions per turn.
func WithMaxRequired(n int) Option {
	return func(p *Policy) { p.maxRequired = n }
}

// WithMaxOptional caps optional-field prompts per turn.
func WithMaxOptional(n int) Option {
	return func(p *Policy) { p.maxOptional = n }
}

// WithAcceptThreshold sets the confidence below which a required field is
// asked for again. Default: [state.DefaultAcceptThreshold].
func WithAcceptThreshold(t float64) Option {
	return func(p *Policy) { p.threshold = t }
}

// Policy is a pure function of the session. It is safe for concurrent use.
type Policy struct {
	maxClarifications int
	maxRequired       int
	maxOptional       int
	threshold         float64
}

// New returns a Policy with the default caps.
func New(opts ...Option) *Policy {
	p := &Policy{
		maxClarifications: DefaultMaxClarifications,
		maxRequired:       DefaultMaxRequired,
		maxOptional:       DefaultMaxOptional,
		threshold:         state.DefaultAcceptThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Decide returns the next action. Priority is clarification, then missing
// required fields, then a single soft prompt per empty optional field, then
// completion. Targets follow field declaration order.
//
// Decide does not record which optional fields it prompted; the caller marks
// them in [form.Session.Prompted] once the prompt was delivered.
func (p *Policy) Decide(s form.Session) form.Decision {
	if s.Status == form.StatusAbandoned {
		return form.Decision{Action: form.ActionComplete}
	}

	var targets []string
	for _, f := range s.Fields {
		if len(targets) == p.maxClarifications {
			break
		}
		if _, ok := s.Contradictions[f.ID]; ok {
			targets = append(targets, f.ID)
		}
	}
	if len(targets) > 0 {
		return form.Decision{Action: form.ActionAskClarification, TargetFieldIDs: targets}
	}

	for _, f := range s.Fields {
		if len(targets) == p.maxRequired {
			break
		}
		if f.Required && !p.filled(s, f.ID) {
			targets = append(targets, f.ID)
		}
	}
	if len(targets) > 0 {
		return form.Decision{Action: form.ActionAskRequired, TargetFieldIDs: targets}
	}

	for _, f := range s.Fields {
		if len(targets) == p.maxOptional {
			break
		}
		if f.Required || s.Prompted[f.ID] {
			continue
		}
		if fv, ok := s.Values[f.ID]; ok && !fv.Value.IsZero() {
			continue
		}
		targets = append(targets, f.ID)
	}
	if len(targets) > 0 {
		return form.Decision{Action: form.ActionConfirmOptional, TargetFieldIDs: targets}
	}

	return form.Decision{Action: form.ActionComplete}
}

func (p *Policy) filled(s form.Session, id string) bool {
	fv, ok := s.Values[id]
	return ok && state.Accepted(fv, p.threshold)
}
