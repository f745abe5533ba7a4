package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/DanielWill-1/audentra/internal/normalize"
	"github.com/DanielWill-1/audentra/pkg/form"
)

var (
	emailRe     = regexp.MustCompile(`[^\s@]+@[^\s@]+\.[^\s@]{2,}`)
	emailFullRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	phoneRe     = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
)

func matchEmail(n normalize.Normalized) []proposal {
	var out []proposal
	for _, loc := range emailRe.FindAllStringIndex(n.Original, -1) {
		start, end := loc[0], loc[1]
		for end > start && strings.IndexByte(`.,;:!?)"'>`, n.Original[end-1]) >= 0 {
			end--
		}
		for start < end && strings.IndexByte(`("'<`, n.Original[start]) >= 0 {
			start++
		}
		addr := n.Original[start:end]
		if !emailFullRe.MatchString(addr) {
			continue
		}
		out = append(out, proposal{
			value:      form.EmailValue(addr),
			confidence: ConfidenceEmail,
			span:       form.Span{Start: start, End: end},
		})
	}
	return out
}

func matchPhone(n normalize.Normalized) []proposal {
	var out []proposal
	s := n.Original
	for _, loc := range phoneRe.FindAllStringIndex(s, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isDigit(s[start-1]) || end < len(s) && isDigit(s[end]) {
			continue
		}
		out = append(out, proposal{
			value:      form.PhoneValue(s[start:end]),
			confidence: ConfidencePhone,
			span:       form.Span{Start: start, End: end},
		})
	}
	return out
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

const monthNames = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// datePattern parses one regex match into a date.
type datePattern struct {
	re    *regexp.Regexp
	parse func(m []string) (t time.Time, hasYear, ok bool)
}

// datePatterns are tried in order; a later pattern never claims text that an
// earlier one already matched.
var datePatterns = []datePattern{
	{
		// D/M/YYYY, falling back to M/D/YYYY when the day-first reading is
		// not a valid date.
		re: regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`),
		parse: func(m []string) (time.Time, bool, bool) {
			a, b, y := atoi(m[1]), atoi(m[2]), atoi(m[3])
			if t, ok := makeDate(y, b, a); ok {
				return t, true, true
			}
			t, ok := makeDate(y, a, b)
			return t, true, ok
		},
	},
	{
		re: regexp.MustCompile(`\b(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})\b`),
		parse: func(m []string) (time.Time, bool, bool) {
			t, ok := makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
			return t, true, ok
		},
	},
	{
		// 15 March 2024, 15th of march
		re: regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthNames + `)\b\.?(?:,?\s+(\d{4})\b)?`),
		parse: func(m []string) (time.Time, bool, bool) {
			return monthDate(m[3], m[2], m[1])
		},
	},
	{
		// March 15, 2024, march 15th
		re: regexp.MustCompile(`\b(` + monthNames + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`),
		parse: func(m []string) (time.Time, bool, bool) {
			return monthDate(m[3], m[1], m[2])
		},
	},
}

func matchDate(n normalize.Normalized) []proposal {
	var out []proposal
	var claimed []form.Span
	for _, p := range datePatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(n.Lower, -1) {
			sp := form.Span{Start: loc[0], End: loc[1]}
			overlaps := false
			for _, c := range claimed {
				if c.Overlaps(sp) {
					overlaps = true
					break
				}
			}
			if overlaps {
				continue
			}
			m := make([]string, len(loc)/2)
			for i := range m {
				if loc[2*i] >= 0 {
					m[i] = n.Lower[loc[2*i]:loc[2*i+1]]
				}
			}
			t, hasYear, ok := p.parse(m)
			if !ok {
				continue
			}
			claimed = append(claimed, sp)
			out = append(out, proposal{
				value:      form.DateValue(t, hasYear),
				confidence: ConfidenceDate,
				span:       sp,
			})
		}
	}
	return out
}

func monthDate(year, month, day string) (time.Time, bool, bool) {
	if len(month) > 3 {
		month = month[:3]
	}
	mo, ok := months[month]
	if !ok {
		return time.Time{}, false, false
	}
	if year == "" {
		// Leap year so that February 29 is accepted.
		t, ok := makeDate(2000, int(mo), atoi(day))
		return t, false, ok
	}
	t, ok := makeDate(atoi(year), int(mo), atoi(day))
	return t, true, ok
}

func makeDate(y, m, d int) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
