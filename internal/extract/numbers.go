package extract

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/DanielWill-1/audentra/internal/normalize"
	"github.com/DanielWill-1/audentra/pkg/form"
)

var digitsRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)

var unitWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// number is one numeric mention in the utterance.
type number struct {
	value      float64
	span       form.Span
	first      int // word index range
	last       int
	fromDigits bool
}

// maxLabelDistance is how many words may separate a number from a label
// keyword for the number to count as "near" it.
const maxLabelDistance = 4

// matchNumber prefers numbers close to a label keyword and otherwise accepts
// the only digit number in the utterance at a low confidence.
func matchNumber(n normalize.Normalized, ws []word, f form.FieldSpec) []proposal {
	nums := findNumbers(n, ws)
	if len(nums) == 0 {
		return nil
	}

	keywords := labelKeywords(f.Label, f.ID)
	var kwIdx []int
	for i, w := range ws {
		for _, kw := range keywords {
			if w.lower == kw || len(kw) >= 4 && strings.HasPrefix(w.lower, kw) {
				kwIdx = append(kwIdx, i)
				break
			}
		}
	}

	type near struct {
		num   number
		dist  int
		after bool
	}
	var nearby []near
	for _, num := range nums {
		best, bestAfter := -1, false
		for _, k := range kwIdx {
			var d int
			after := k < num.first
			switch {
			case after:
				d = num.first - k
			case k > num.last:
				d = k - num.last
			default:
				continue
			}
			if d > maxLabelDistance {
				continue
			}
			if best < 0 || d < best || d == best && after && !bestAfter {
				best, bestAfter = d, after
			}
		}
		if best >= 0 {
			nearby = append(nearby, near{num: num, dist: best, after: bestAfter})
		}
	}
	slices.SortStableFunc(nearby, func(a, b near) int {
		if a.dist != b.dist {
			return a.dist - b.dist
		}
		if a.after != b.after {
			if a.after {
				return -1
			}
			return 1
		}
		return 0
	})

	var out []proposal
	for _, c := range nearby {
		out = append(out, proposal{
			value:      form.NumberValue(c.num.value),
			confidence: ConfidenceNumberNearLabel,
			span:       c.num.span,
		})
	}

	var digits []number
	for _, num := range nums {
		if num.fromDigits {
			digits = append(digits, num)
		}
	}
	if len(digits) == 1 && len(nearby) == 0 {
		out = append(out, proposal{
			value:      form.NumberValue(digits[0].value),
			confidence: ConfidenceSoleNumber,
			span:       digits[0].span,
		})
	}
	return out
}

// findNumbers returns digit and spoken-word numbers in utterance order.
// Digits glued to letters or to an e-mail address are ignored.
func findNumbers(n normalize.Normalized, ws []word) []number {
	var nums []number
	s := n.Lower
	for _, loc := range digitsRe.FindAllStringIndex(s, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && (isWordByte(s[start-1]) || strings.IndexByte("@.-/", s[start-1]) >= 0) {
			continue
		}
		if end < len(s) && (isWordByte(s[end]) && !isOrdinalSuffix(s[end:]) || strings.IndexByte("@/", s[end]) >= 0) {
			continue
		}
		if end+1 < len(s) && strings.IndexByte("-.", s[end]) >= 0 && isDigit(s[end+1]) {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(s[start:end], ",", ""), 64)
		if err != nil {
			continue
		}
		wi := wordContaining(ws, start)
		if wi < 0 {
			continue
		}
		nums = append(nums, number{value: v, span: form.Span{Start: start, End: end}, first: wi, last: wi, fromDigits: true})
	}

	for i := 0; i < len(ws); {
		v, j, ok := spokenNumber(ws, i)
		if !ok {
			i++
			continue
		}
		nums = append(nums, number{
			value: float64(v),
			span:  form.Span{Start: ws[i].start, End: ws[j-1].end},
			first: i,
			last:  j - 1,
		})
		i = j
	}

	slices.SortStableFunc(nums, func(a, b number) int { return a.span.Start - b.span.Start })
	return nums
}

func isOrdinalSuffix(s string) bool {
	for _, suf := range []string{"st", "nd", "rd", "th"} {
		if strings.HasPrefix(s, suf) && (len(s) == len(suf) || !isWordByte(s[len(suf)])) {
			return true
		}
	}
	return false
}

// spokenNumber parses a run of number words starting at ws[i]. It returns
// the value and the index one past the last consumed word.
func spokenNumber(ws []word, i int) (int, int, bool) {
	total, current := 0, 0
	j := i
	for j < len(ws) {
		parts := strings.Split(ws[j].lower, "-")
		if !slices.ContainsFunc(parts, isNumberWord) || slices.ContainsFunc(parts, func(p string) bool { return !isNumberWord(p) }) {
			// "and" joins number words: "one hundred and five".
			if j > i && ws[j].lower == "and" && !ws[j-1].stop && j+1 < len(ws) && isNumberWord(ws[j+1].lower) {
				j++
				continue
			}
			break
		}
		for _, p := range parts {
			switch p {
			case "hundred":
				current = max(current, 1) * 100
			case "thousand":
				total += max(current, 1) * 1000
				current = 0
			default:
				current += unitWords[p]
			}
		}
		j++
		if ws[j-1].stop {
			break
		}
	}
	if j == i {
		return 0, i, false
	}
	return total + current, j, true
}

func isNumberWord(p string) bool {
	if p == "hundred" || p == "thousand" {
		return true
	}
	_, ok := unitWords[p]
	return ok
}
