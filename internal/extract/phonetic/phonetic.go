// Package phonetic finds misheard option names in an utterance.
//
// ASR output often spells a spoken choice differently from the declared
// option ("pro fessional" for "Professional", "pedro" for "Petrol"). The
// [Matcher] slides a window over the utterance tokens and compares each
// window against every option in two stages:
//
//  1. Double Metaphone codes of the window and the option must share at
//     least one code; such a pair is accepted when its Jaro-Winkler score
//     reaches the phonetic threshold.
//  2. Without a code overlap the pair is accepted only when the pure
//     Jaro-Winkler score reaches the (higher) fuzzy threshold.
//
// Short tokens produce noisy codes, so windows and options whose letters
// number fewer than the configured minimum are never considered.
package phonetic

import (
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
	defaultMinLetters        = 4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a window that
// shares a Double Metaphone code with an option. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a window with no
// shared phonetic code. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinLetters sets the minimum number of letters a window and an option
// must have to be compared. Default: 4.
func WithMinLetters(n int) Option {
	return func(m *Matcher) {
		m.minLetters = n
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLetters        int
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLetters:        defaultMinLetters,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Hit is one option recognised in the text.
type Hit struct {
	// Option is the declared option, as given to [Matcher.Scan].
	Option string

	// Score is the Jaro-Winkler similarity of the best window.
	Score float64

	// Start and End delimit the matched window as byte offsets into the
	// scanned text.
	Start, End int

	// Phonetic is true when the window shared a Double Metaphone code with
	// the option.
	Phonetic bool
}

type token struct {
	text       string
	start, end int
}

// Scan returns at most one hit per option, the best-scoring window for it,
// ordered by position in text. Hits never overlap: when two options claim
// overlapping windows the higher score wins.
func (m *Matcher) Scan(text string, options []string) []Hit {
	toks := tokenize(text)
	if len(toks) == 0 || len(options) == 0 {
		return nil
	}

	var hits []Hit
	for _, opt := range options {
		optLower := strings.ToLower(strings.TrimSpace(opt))
		optTokens := strings.Fields(optLower)
		if letterCount(optLower) < m.minLetters {
			continue
		}
		optCodes := codesForTokens(optTokens)

		var best Hit
		found := false
		for size := 1; size <= len(optTokens)+1 && size <= len(toks); size++ {
			for i := 0; i+size <= len(toks); i++ {
				window := toks[i : i+size]
				words := make([]string, len(window))
				for j, t := range window {
					words[j] = t.text
				}
				full := strings.Join(words, " ")
				if letterCount(full) < m.minLetters {
					continue
				}
				phon := codesOverlap(codesForTokens(words), optCodes)
				score := bestJWScore(words, optTokens, full, optLower)
				ok := (phon && score >= m.phoneticThreshold) || score >= m.fuzzyThreshold
				if !ok {
					continue
				}
				if !found || score > best.Score || (phon && !best.Phonetic && score == best.Score) {
					best = Hit{Option: opt, Score: score, Start: window[0].start, End: window[len(window)-1].end, Phonetic: phon}
					found = true
				}
			}
		}
		if found {
			hits = append(hits, best)
		}
	}

	// Highest score first; drop anything overlapping an accepted hit.
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	var out []Hit
	for _, h := range hits {
		if !slices.ContainsFunc(out, func(o Hit) bool { return h.Start < o.End && o.Start < h.End }) {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, func(a, b Hit) int { return a.Start - b.Start })
	return out
}

// tokenize splits text on non-alphanumeric runes, keeping byte offsets.
func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		word := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
		switch {
		case word && start < 0:
			start = i
		case !word && start >= 0:
			toks = append(toks, token{text: strings.ToLower(text[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, token{text: strings.ToLower(text[start:]), start: start, end: len(text)})
	}
	return toks
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// codesForTokens returns the union of all Double Metaphone codes for tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore compares the window with the option as full strings and with
// spaces removed.
func bestJWScore(inputTokens, optTokens []string, inputFull, optFull string) float64 {
	score := matchr.JaroWinkler(inputFull, optFull, false)

	if len(inputTokens) > 1 || len(optTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(optTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
