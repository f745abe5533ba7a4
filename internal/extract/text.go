package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// word is a whitespace-delimited token of the normalized utterance.
type word struct {
	// raw is the token exactly as it appears in the original-case text.
	raw string

	// lower is the lower-case copy of raw.
	lower string

	// start and end delimit the token without trailing punctuation.
	start, end int

	// stop is set when the token was followed by clause punctuation;
	// sentenceEnd when that punctuation ends a sentence.
	stop, sentenceEnd bool
}

const clausePunct = ",.;:!?"

// words splits the utterance on whitespace and records byte offsets. Trailing
// clause punctuation is excluded from the span and sets the stop flag.
func words(original, lower string) []word {
	var out []word
	i := 0
	for i < len(original) {
		r, size := utf8.DecodeRuneInString(original[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		j := i
		for j < len(original) {
			r, size := utf8.DecodeRuneInString(original[j:])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		end := j
		sentenceEnd := false
		for end > i && strings.IndexByte(clausePunct, original[end-1]) >= 0 {
			if strings.IndexByte(".!?", original[end-1]) >= 0 {
				sentenceEnd = true
			}
			end--
		}
		stop := end < j
		start := i
		for start < end && strings.IndexByte(`"(`, original[start]) >= 0 {
			start++
		}
		for end > start && strings.IndexByte(`")`, original[end-1]) >= 0 {
			end--
		}
		if end > start {
			out = append(out, word{
				raw:         original[start:end],
				lower:       lower[start:end],
				start:       start,
				end:         end,
				stop:        stop,
				sentenceEnd: sentenceEnd,
			})
		}
		i = j
	}
	return out
}

// isWordByte reports whether b continues an alphanumeric token.
func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b >= 0x80
}

// boundedAt reports whether s[start:end] is not glued to neighbouring word
// characters.
func boundedAt(s string, start, end int) bool {
	if start > 0 && isWordByte(s[start-1]) {
		return false
	}
	if end < len(s) && isWordByte(s[end]) {
		return false
	}
	return true
}

// findPhrase returns the byte offsets of every word-bounded occurrence of
// phrase in lower. phrase must already be lower-case.
func findPhrase(lower, phrase string) [][2]int {
	if phrase == "" {
		return nil
	}
	var out [][2]int
	from := 0
	for {
		idx := strings.Index(lower[from:], phrase)
		if idx < 0 {
			return out
		}
		start := from + idx
		end := start + len(phrase)
		if boundedAt(lower, start, end) {
			out = append(out, [2]int{start, end})
		}
		from = start + 1
	}
}

// wordIndexAt returns the index of the first word starting at or after off.
func wordIndexAt(ws []word, off int) int {
	for i, w := range ws {
		if w.start >= off {
			return i
		}
	}
	return len(ws)
}

// wordContaining returns the index of the word covering byte off, or -1.
func wordContaining(ws []word, off int) int {
	for i, w := range ws {
		if off >= w.start && off < w.end {
			return i
		}
	}
	return -1
}

// labelKeywords returns the significant lower-case words of a field's label
// and id.
func labelKeywords(label, id string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if len(f) < 3 || labelNoise[f] || seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	add(label)
	add(id)
	return out
}

var labelNoise = map[string]bool{
	"the": true, "your": true, "you": true, "and": true, "for": true,
	"number": true, "num": true, "field": true, "please": true, "enter": true,
}
