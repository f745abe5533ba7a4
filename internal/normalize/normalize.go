// Package normalize cleans raw transcripts before field extraction.
//
// A [Normalizer] trims the text, collapses runs of whitespace, drops ASR
// filler tokens and rewrites spoken e-mail addresses ("john at example dot
// com") into their written form. The result keeps two copies of the text: the
// original-case copy used for names and addresses, and a lower-case copy used
// for keyword matching. Both copies have identical byte lengths so that a span
// computed on one is valid on the other.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/DanielWill-1/audentra/pkg/form"
)

// DefaultFillers are the hesitation tokens removed by default.
var DefaultFillers = []string{"um", "umm", "uh", "uhh", "uhm", "erm", "hmm", "mm"}

// Normalized is the output of [Normalizer.Normalize].
type Normalized struct {
	// Original is the cleaned text in its original case.
	Original string

	// Lower is a lower-case copy of Original with the same byte length.
	Lower string
}

// Option is a functional option for [New].
type Option func(*Normalizer)

// WithFillers replaces the filler vocabulary. An empty list disables filler
// removal.
func WithFillers(words []string) Option {
	return func(n *Normalizer) {
		n.fillers = make(map[string]struct{}, len(words))
		for _, w := range words {
			n.fillers[strings.ToLower(w)] = struct{}{}
		}
	}
}

// WithSpokenEmail toggles rewriting of spoken e-mail addresses. Enabled by
// default.
func WithSpokenEmail(enabled bool) Option {
	return func(n *Normalizer) {
		n.spokenEmail = enabled
	}
}

// Normalizer is stateless after construction and safe for concurrent use.
type Normalizer struct {
	fillers     map[string]struct{}
	spokenEmail bool
}

// New returns a Normalizer with the default filler list and spoken e-mail
// rewriting enabled.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{spokenEmail: true}
	WithFillers(DefaultFillers)(n)
	for _, o := range opts {
		o(n)
	}
	return n
}

// spokenEmailRe finds "local at domain dot tld", where the local part may
// itself contain " dot " separators.
var spokenEmailRe = regexp.MustCompile(`(?i)\b([a-z0-9_%+-]+(?:\s+dot\s+[a-z0-9_%+-]+)*)\s+at\s+([a-z0-9-]+(?:\s+dot\s+[a-z0-9-]+)*\s+dot\s+[a-z]{2,})\b`)

var dotWordRe = regexp.MustCompile(`(?i)\s+dot\s+`)

// emailCueRe marks text that announces an address.
var emailCueRe = regexp.MustCompile(`(?i)\b(?:e-?mail|mail|address)\b`)

// rewriteSpokenEmails turns "local at domain dot tld" into an address when
// the mention is anchored: the local part is itself dotted, the mention opens
// the utterance, or an e-mail cue precedes it. "I work at acme dot com"
// stays as spoken.
func rewriteSpokenEmails(text string) string {
	matches := spokenEmailRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		local, domain := text[m[2]:m[3]], text[m[4]:m[5]]
		anchored := dotWordRe.MatchString(local) ||
			strings.TrimSpace(text[:m[0]]) == "" ||
			emailCueRe.MatchString(text[:m[0]])
		if !anchored {
			continue
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(dotWordRe.ReplaceAllString(local, "."))
		b.WriteByte('@')
		b.WriteString(strings.ToLower(dotWordRe.ReplaceAllString(domain, ".")))
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// Normalize cleans raw. It returns an error wrapping [form.ErrEmptyUtterance]
// when nothing usable remains.
func (n *Normalizer) Normalize(raw string) (Normalized, error) {
	tokens := strings.Fields(raw)
	kept := tokens[:0]
	for _, tok := range tokens {
		if n.isFiller(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	text := strings.Join(kept, " ")

	if n.spokenEmail {
		text = rewriteSpokenEmails(text)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Normalized{}, fmt.Errorf("normalize: %w", form.ErrEmptyUtterance)
	}
	return Normalized{Original: text, Lower: lowerSameLength(text)}, nil
}

func (n *Normalizer) isFiller(tok string) bool {
	if len(n.fillers) == 0 {
		return false
	}
	w := strings.ToLower(strings.TrimRight(tok, ",.!?;:"))
	_, ok := n.fillers[w]
	return ok
}

// lowerSameLength lower-cases s rune by rune, keeping any rune whose
// lower-case form has a different UTF-8 width. Invalid bytes are copied.
func lowerSameLength(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		l := unicode.ToLower(r)
		if utf8.RuneLen(l) != size {
			l = r
		}
		b.WriteRune(l)
		i += size
	}
	return b.String()
}
