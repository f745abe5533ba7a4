package extract

import (
	"slices"
	"strings"
	"unicode"

	"github.com/DanielWill-1/audentra/internal/normalize"
	"github.com/DanielWill-1/audentra/pkg/form"
)

// captureMode controls how much text follows an anchor phrase.
type captureMode int

const (
	// capturePhrase takes a short phrase up to clause punctuation.
	capturePhrase captureMode = iota
	// captureName takes up to maxNameWords name-like words.
	captureName
	// captureCapitalized is captureName restricted to capitalised words.
	captureCapitalized
	// captureSentence takes everything up to the end of the sentence.
	captureSentence
)

const (
	maxNameWords     = 4
	maxPhraseWords   = 8
	maxSentenceWords = 40
)

type anchor struct {
	phrase string
	mode   captureMode
}

var (
	nameAnchors = []anchor{
		{"my name is", captureName},
		{"name is", captureName},
		{"name's", captureName},
		{"call me", captureName},
		{"i go by", captureName},
		{"i'm", captureCapitalized},
		{"i am", captureCapitalized},
		{"this is", captureCapitalized},
	}
	reasonAnchors = []anchor{
		{"the reason is", captureSentence},
		{"reason is", captureSentence},
		{"because", captureSentence},
		{"calling about", captureSentence},
		{"the problem is", captureSentence},
		{"the issue is", captureSentence},
		{"my complaint is", captureSentence},
	}
)

// reasonKeywords mark labels that describe a free-form explanation.
var reasonKeywords = []string{
	"reason", "complaint", "description", "describe", "issue", "problem",
	"details", "comment", "comments", "notes", "message", "feedback", "symptoms",
}

// notPersonName mark labels containing "name" that do not ask for a person.
var notPersonName = []string{
	"company", "business", "organization", "organisation", "pet", "street",
	"product", "project", "file", "team", "school", "user",
}

// captureStop ends a capture before the stop word.
var captureStop = map[string]bool{
	"and": true, "but": true, "or": true, "my": true, "i": true, "i'm": true,
	"from": true, "here": true, "calling": true, "with": true, "at": true,
	"is": true, "was": true, "the": true, "a": true, "an": true, "to": true,
	"for": true, "of": true, "in": true, "on": true, "so": true,
	"because": true, "please": true, "thanks": true, "thank": true,
	"you": true, "email": true, "e-mail": true, "phone": true,
	"number": true, "actually": true, "sorry": true, "not": true,
	"just": true, "also": true, "me": true,
}

// phraseStop ends a generic phrase capture.
var phraseStop = map[string]bool{
	"and": true, "but": true, "my": true, "so": true, "because": true,
}

// matchText looks for a phrase anchored by a label keyword ("company is
// Acme") or, for names and explanations, by a conversational anchor ("my
// name is", "because").
func matchText(n normalize.Normalized, ws []word, f form.FieldSpec) []proposal {
	keywords := labelKeywords(f.Label, f.ID)
	has := func(list ...string) bool {
		return slices.ContainsFunc(keywords, func(k string) bool { return slices.Contains(list, k) })
	}

	person := has("name") && !has(notPersonName...)
	reason := f.Type == form.TypeTextarea || has(reasonKeywords...)

	labelMode := capturePhrase
	switch {
	case person:
		labelMode = captureName
	case reason:
		labelMode = captureSentence
	}

	var anchors []anchor
	if label := strings.Join(strings.Fields(strings.ToLower(f.DisplayLabel())), " "); label != "" {
		anchors = append(anchors,
			anchor{label + " is", labelMode},
			anchor{label + " was", labelMode},
			anchor{label + ":", labelMode})
	}
	for _, kw := range keywords {
		anchors = append(anchors,
			anchor{kw + " is", labelMode},
			anchor{kw + " was", labelMode},
			anchor{kw + ":", labelMode})
	}
	if person {
		anchors = append(anchors, nameAnchors...)
	}
	if reason {
		anchors = append(anchors, reasonAnchors...)
	}

	var out []proposal
	seen := make(map[form.Span]bool)
	for _, a := range anchors {
		for _, loc := range findPhrase(n.Lower, a.phrase) {
			i := wordIndexAt(ws, loc[1])
			if i > 0 && ws[i-1].sentenceEnd {
				continue
			}
			first, last, ok := capture(ws, i, a.mode)
			if !ok {
				continue
			}
			sp := form.Span{Start: ws[first].start, End: ws[last].end}
			if seen[sp] {
				continue
			}
			seen[sp] = true
			out = append(out, proposal{
				value:      form.TextValue(n.Original[sp.Start:sp.End]),
				confidence: ConfidenceText,
				span:       sp,
			})
		}
	}
	return out
}

// capture returns the word range following an anchor.
func capture(ws []word, i int, mode captureMode) (first, last int, ok bool) {
	first, last = i, -1
	switch mode {
	case captureName, captureCapitalized:
		for j := i; j < len(ws) && j-i < maxNameWords; j++ {
			w := ws[j]
			if captureStop[w.lower] || !isNameWord(w.raw) {
				break
			}
			if mode == captureCapitalized && !startsUpper(w.raw) {
				break
			}
			last = j
			if w.stop {
				break
			}
		}
	case captureSentence:
		for j := i; j < len(ws) && j-i < maxSentenceWords; j++ {
			last = j
			if ws[j].sentenceEnd {
				break
			}
		}
	default:
		for j := i; j < len(ws) && j-i < maxPhraseWords; j++ {
			w := ws[j]
			if phraseStop[w.lower] || strings.Contains(w.raw, "@") {
				break
			}
			last = j
			if w.stop {
				break
			}
		}
	}
	return first, last, last >= first
}

func isNameWord(s string) bool {
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case r == '\'' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return letters > 0
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
