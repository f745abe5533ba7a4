package form

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant stored in a [Value].
type Kind string

const (
	KindText    Kind = "text"
	KindEmail   Kind = "email"
	KindPhone   Kind = "phone"
	KindNumber  Kind = "number"
	KindDate    Kind = "date"
	KindChoice  Kind = "choice"
	KindChoices Kind = "choices"
)

// DateLayout is the canonical rendering of a date value with a known year.
const DateLayout = "2006-01-02"

// Value is a tagged field value. Exactly which members are meaningful depends
// on Kind:
//
//   - text, email, phone, date, choice: Text holds the display form.
//   - number: Number holds the parsed value, Text the display form.
//   - choices: Choices holds the selected options in declaration order.
type Value struct {
	Kind    Kind     `json:"kind"`
	Text    string   `json:"text,omitempty"`
	Number  float64  `json:"number,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// TextValue returns a free-text value.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// EmailValue returns an e-mail value.
func EmailValue(s string) Value { return Value{Kind: KindEmail, Text: s} }

// PhoneValue returns a phone value; s is kept as heard.
func PhoneValue(s string) Value { return Value{Kind: KindPhone, Text: s} }

// ChoiceValue returns a single selected option.
func ChoiceValue(option string) Value { return Value{Kind: KindChoice, Text: option} }

// ChoicesValue returns a multi-select value. The slice is copied.
func ChoicesValue(options ...string) Value {
	return Value{Kind: KindChoices, Choices: slices.Clone(options)}
}

// NumberValue returns a numeric value.
func NumberValue(n float64) Value {
	return Value{Kind: KindNumber, Number: n, Text: strconv.FormatFloat(n, 'f', -1, 64)}
}

// DateValue returns a date value. When hasYear is false only month and day
// are rendered ("March 15").
func DateValue(t time.Time, hasYear bool) Value {
	if hasYear {
		return Value{Kind: KindDate, Text: t.Format(DateLayout)}
	}
	return Value{Kind: KindDate, Text: t.Format("January 2")}
}

// IsZero reports whether v carries no value at all.
func (v Value) IsZero() bool {
	switch v.Kind {
	case "":
		return true
	case KindNumber:
		return v.Text == ""
	case KindChoices:
		return len(v.Choices) == 0
	default:
		return strings.TrimSpace(v.Text) == ""
	}
}

// Key returns the canonical comparison key of v. Two values are the same
// answer iff their kinds and keys are equal.
func (v Value) Key() string {
	switch v.Kind {
	case KindPhone:
		var b strings.Builder
		for _, r := range v.Text {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindChoices:
		keys := make([]string, len(v.Choices))
		for i, c := range v.Choices {
			keys[i] = strings.ToLower(strings.TrimSpace(c))
		}
		slices.Sort(keys)
		return strings.Join(keys, "\x1f")
	default:
		return strings.Join(strings.Fields(strings.ToLower(v.Text)), " ")
	}
}

// Equal reports whether v and o represent the same answer.
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Key() == o.Key()
}

// String renders v for prompts and confirmations.
func (v Value) String() string {
	if v.Kind == KindChoices {
		return strings.Join(v.Choices, ", ")
	}
	return v.Text
}

// ParseValue converts raw user input into a [Value] of the kind implied by
// field. It is used for explicit corrections and for values proposed by an
// LLM enhancer, never for utterance extraction.
//
// Choice input is canonicalised against the declared options
// (case-insensitive); checkbox input is a comma separated list. An empty raw
// string yields the zero Value and no error.
func ParseValue(field FieldSpec, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Value{}, nil
	}

	switch {
	case field.Type == TypeEmail:
		if !strings.Contains(raw, "@") {
			return Value{}, fmt.Errorf("form: field %q: %q is not an e-mail address: %w", field.ID, raw, ErrInvalidValue)
		}
		return EmailValue(raw), nil

	case field.Type == TypeNumber:
		n, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			return Value{}, fmt.Errorf("form: field %q: %q is not a number: %w", field.ID, raw, ErrInvalidValue)
		}
		return NumberValue(n), nil

	case field.Type == TypeDate:
		if t, err := time.Parse(DateLayout, raw); err == nil {
			return DateValue(t, true), nil
		}
		return Value{Kind: KindDate, Text: raw}, nil

	case field.Type == TypeCheckbox:
		var picked []string
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			opt, ok := field.Option(part)
			if !ok {
				return Value{}, fmt.Errorf("form: field %q: %q is not one of the options: %w", field.ID, part, ErrInvalidValue)
			}
			if !slices.Contains(picked, opt) {
				picked = append(picked, opt)
			}
		}
		return ChoicesValue(field.OrderOptions(picked)...), nil

	case field.Type.IsChoice():
		opt, ok := field.Option(raw)
		if !ok {
			return Value{}, fmt.Errorf("form: field %q: %q is not one of the options: %w", field.ID, raw, ErrInvalidValue)
		}
		return ChoiceValue(opt), nil

	case field.IsPhone():
		return PhoneValue(raw), nil

	default:
		return TextValue(raw), nil
	}
}

// Option returns the declared option matching s case-insensitively.
func (f FieldSpec) Option(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, o := range f.Options {
		if strings.EqualFold(o, s) {
			return o, true
		}
	}
	return "", false
}

// OrderOptions returns the members of picked sorted by their position in
// f.Options. Entries that are not declared options are dropped.
func (f FieldSpec) OrderOptions(picked []string) []string {
	out := make([]string, 0, len(picked))
	for _, o := range f.Options {
		if slices.Contains(picked, o) {
			out = append(out, o)
		}
	}
	return out
}
