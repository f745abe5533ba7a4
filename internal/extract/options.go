package extract

import (
	"slices"
	"strings"

	"github.com/DanielWill-1/audentra/internal/normalize"
	"github.com/DanielWill-1/audentra/pkg/form"
)

type optionHit struct {
	option     string
	span       form.Span
	confidence float64
}

// matchOptions finds declared options in the utterance. Checkbox fields keep
// every option heard; single-choice fields with several distinct options
// heard prefer the one mentioned last at a reduced confidence.
func (e *Extractor) matchOptions(n normalize.Normalized, f form.FieldSpec) (claim, bool) {
	var hits []optionHit
	for _, opt := range f.Options {
		phrase := strings.Join(strings.Fields(strings.ToLower(opt)), " ")
		for _, loc := range findPhrase(n.Lower, phrase) {
			hits = append(hits, optionHit{
				option:     opt,
				span:       form.Span{Start: loc[0], End: loc[1]},
				confidence: ConfidenceOption,
			})
		}
	}
	hits = dropContained(hits)

	if len(hits) == 0 && e.phonetic != nil {
		for _, h := range e.phonetic.Scan(n.Lower, f.Options) {
			hits = append(hits, optionHit{
				option:     h.Option,
				span:       form.Span{Start: h.Start, End: h.End},
				confidence: ConfidencePhonetic,
			})
		}
	}
	if len(hits) == 0 {
		return claim{}, false
	}
	slices.SortStableFunc(hits, func(a, b optionHit) int { return a.span.Start - b.span.Start })

	c := claim{tier: tierOption}
	if f.Type == form.TypeCheckbox {
		c.multi = true
		seen := make(map[string]bool)
		for _, h := range hits {
			if seen[h.option] {
				continue
			}
			seen[h.option] = true
			c.proposals = append(c.proposals, proposal{
				value:      form.ChoiceValue(h.option),
				confidence: h.confidence,
				span:       h.span,
			})
		}
		return c, true
	}

	distinct := make(map[string]bool)
	for _, h := range hits {
		distinct[h.option] = true
	}
	if len(distinct) > 1 {
		slices.Reverse(hits)
	}
	for _, h := range hits {
		conf := h.confidence
		if len(distinct) > 1 {
			conf = min(conf, ConfidenceOptionAmbiguous)
		}
		c.proposals = append(c.proposals, proposal{
			value:      form.ChoiceValue(h.option),
			confidence: conf,
			span:       h.span,
		})
	}
	return c, true
}

// dropContained removes hits whose span lies inside a longer hit, so that
// "pro plus" does not also count as "pro".
func dropContained(hits []optionHit) []optionHit {
	out := hits[:0:0]
	for i, h := range hits {
		inside := false
		for j, o := range hits {
			if i == j {
				continue
			}
			longer := o.span.End-o.span.Start > h.span.End-h.span.Start
			if longer && o.span.Start <= h.span.Start && h.span.End <= o.span.End {
				inside = true
				break
			}
		}
		if !inside {
			out = append(out, h)
		}
	}
	return out
}
