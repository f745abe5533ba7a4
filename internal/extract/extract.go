// Package extract turns one normalized utterance into field candidates.
//
// Every field selects a matcher by its type (and, for phone numbers, by its
// label). Matchers propose readings of the utterance with a fixed confidence
// and a tier; when proposals for different fields claim overlapping text the
// higher tier wins and ties go to the field declared first:
//
//	tier 4  e-mail                       0.95
//	tier 3  phone, date                  0.90, 0.85
//	tier 2  declared options             0.80 (0.70 ambiguous, 0.55 phonetic)
//	tier 1  numbers, label-anchored text 0.75/0.50, 0.60
//
// The [Extractor] is pure: the same input always yields the same candidates
// in field declaration order.
package extract

import (
	"slices"

	"github.com/DanielWill-1/audentra/internal/extract/phonetic"
	"github.com/DanielWill-1/audentra/internal/normalize"
	"github.com/DanielWill-1/audentra/pkg/form"
)

// Fixed confidences assigned by the matchers.
const (
	ConfidenceEmail           = 0.95
	ConfidencePhone           = 0.90
	ConfidenceDate            = 0.85
	ConfidenceOption          = 0.80
	ConfidenceOptionAmbiguous = 0.70
	ConfidencePhonetic        = 0.55
	ConfidenceNumberNearLabel = 0.75
	ConfidenceText            = 0.60
	ConfidenceSoleNumber      = 0.50
)

type tier int

const (
	tierContext tier = iota + 1
	tierOption
	tierPattern
	tierEmail
)

// proposal is one possible reading of the utterance for a field. For
// checkbox fields each proposal carries a single option.
type proposal struct {
	value      form.Value
	confidence float64
	span       form.Span
}

// claim groups the proposals of one field in preference order.
type claim struct {
	field     int
	tier      tier
	multi     bool
	proposals []proposal
}

// Option is a functional option for [New].
type Option func(*Extractor)

// WithPhonetic sets the matcher used when no declared option appears
// verbatim. A nil matcher disables the fallback.
func WithPhonetic(m *phonetic.Matcher) Option {
	return func(e *Extractor) {
		e.phonetic = m
	}
}

// Extractor is read-only after construction and safe for concurrent use.
type Extractor struct {
	phonetic *phonetic.Matcher
}

// New returns an Extractor with the phonetic option fallback enabled.
func New(opts ...Option) *Extractor {
	e := &Extractor{phonetic: phonetic.New()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract returns at most one candidate per field. Fields with no match are
// omitted. prior is read-only context: a free-text reading that merely
// repeats another field's current value is dropped.
func (e *Extractor) Extract(n normalize.Normalized, fields []form.FieldSpec, prior map[string]form.FieldValue) []form.Candidate {
	ws := words(n.Original, n.Lower)

	var claims []claim
	for i, f := range fields {
		c, ok := e.match(n, ws, f)
		if !ok || len(c.proposals) == 0 {
			continue
		}
		c.field = i
		claims = append(claims, c)
	}
	slices.SortStableFunc(claims, func(a, b claim) int {
		if a.tier != b.tier {
			return int(b.tier - a.tier)
		}
		return a.field - b.field
	})

	var taken []form.Span
	free := func(sp form.Span) bool {
		return !slices.ContainsFunc(taken, sp.Overlaps)
	}

	type result struct {
		field int
		cand  form.Candidate
	}
	var results []result
	for _, c := range claims {
		f := fields[c.field]
		if c.multi {
			var (
				picked []string
				spans  []form.Span
				conf   = 1.0
			)
			for _, p := range c.proposals {
				if !free(p.span) {
					continue
				}
				picked = append(picked, p.value.Text)
				spans = append(spans, p.span)
				conf = min(conf, p.confidence)
			}
			if len(picked) == 0 {
				continue
			}
			taken = append(taken, spans...)
			cover := spans[0]
			for _, sp := range spans[1:] {
				cover.Start = min(cover.Start, sp.Start)
				cover.End = max(cover.End, sp.End)
			}
			results = append(results, result{c.field, form.Candidate{
				FieldID:    f.ID,
				Value:      form.ChoicesValue(f.OrderOptions(picked)...),
				Confidence: form.ClampConfidence(conf),
				Span:       &cover,
				Source:     form.SourceRule,
			}})
			continue
		}

		for _, p := range c.proposals {
			if !free(p.span) {
				continue
			}
			if p.value.Kind == form.KindText && repeatsOther(f.ID, p.value, prior) {
				break
			}
			taken = append(taken, p.span)
			sp := p.span
			results = append(results, result{c.field, form.Candidate{
				FieldID:    f.ID,
				Value:      p.value,
				Confidence: form.ClampConfidence(p.confidence),
				Span:       &sp,
				Source:     form.SourceRule,
			}})
			break
		}
	}

	slices.SortFunc(results, func(a, b result) int { return a.field - b.field })
	out := make([]form.Candidate, len(results))
	for i, r := range results {
		out[i] = r.cand
	}
	return out
}

// match dispatches to the matcher for f.
func (e *Extractor) match(n normalize.Normalized, ws []word, f form.FieldSpec) (claim, bool) {
	switch {
	case f.Type == form.TypeEmail:
		return claim{tier: tierEmail, proposals: matchEmail(n)}, true
	case f.Type.IsChoice():
		return e.matchOptions(n, f)
	case f.Type == form.TypeDate:
		return claim{tier: tierPattern, proposals: matchDate(n)}, true
	case f.IsPhone():
		return claim{tier: tierPattern, proposals: matchPhone(n)}, true
	case f.Type == form.TypeNumber:
		return claim{tier: tierContext, proposals: matchNumber(n, ws, f)}, true
	case f.Type == form.TypeText || f.Type == form.TypeTextarea:
		return claim{tier: tierContext, proposals: matchText(n, ws, f)}, true
	}
	return claim{}, false
}

// repeatsOther reports whether v equals the current value of a field other
// than id.
func repeatsOther(id string, v form.Value, prior map[string]form.FieldValue) bool {
	key := v.Key()
	for other, fv := range prior {
		if other != id && fv.Value.Key() == key {
			return true
		}
	}
	return false
}
