// Package form defines the data model shared by every stage of the Audentra
// form-filling pipeline: the target schema ([FieldSpec]), extracted and
// confirmed values ([FieldValue]), user turns ([Utterance]), transient
// extractor output ([Candidate]) and the per-session aggregate ([Session]).
//
// The types are plain values. Pipeline stages receive a [Session] and return
// a new one; none of them mutate their input. All types carry JSON tags so
// that stores and the HTTP API can persist and transmit them unchanged.
package form

import (
	"fmt"
	"strings"
	"time"
)

// FieldType is the input kind of a form field.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeEmail    FieldType = "email"
	TypeNumber   FieldType = "number"
	TypeDate     FieldType = "date"
	TypeTextarea FieldType = "textarea"
	TypeSelect   FieldType = "select"
	TypeRadio    FieldType = "radio"
	TypeCheckbox FieldType = "checkbox"
)

// IsValid reports whether t is a recognised field type.
func (t FieldType) IsValid() bool {
	switch t {
	case TypeText, TypeEmail, TypeNumber, TypeDate, TypeTextarea,
		TypeSelect, TypeRadio, TypeCheckbox:
		return true
	}
	return false
}

// IsChoice reports whether t picks from a declared option list.
func (t FieldType) IsChoice() bool {
	return t == TypeSelect || t == TypeRadio || t == TypeCheckbox
}

// FieldSpec is the definition of one form field. It is immutable for the
// lifetime of a session.
type FieldSpec struct {
	// ID uniquely identifies the field within its form.
	ID string `json:"id"`

	// Type selects the extraction strategy and the question template.
	Type FieldType `json:"type"`

	// Label is the human-readable name used in prompts ("Phone number").
	// Label keywords also drive heuristics: a label containing "phone"
	// enables the phone matcher regardless of Type.
	Label string `json:"label"`

	// Required fields must be filled before the session becomes ready.
	Required bool `json:"required"`

	// Options lists the allowed values for select, radio and checkbox fields.
	Options []string `json:"options,omitempty"`
}

// IsPhone reports whether the field should be treated as a phone number: its
// label, or its id when no label is set, mentions "phone".
func (f FieldSpec) IsPhone() bool {
	return strings.Contains(strings.ToLower(f.DisplayLabel()), "phone")
}

// DisplayLabel returns Label, falling back to ID when no label is set.
func (f FieldSpec) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

// Validate checks a single field definition.
func (f FieldSpec) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("%w: field id is required", ErrInvalidSchema)
	}
	if !f.Type.IsValid() {
		return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidSchema, f.ID, f.Type)
	}
	if f.Type.IsChoice() && len(f.Options) == 0 {
		return fmt.Errorf("%w: field %q of type %s declares no options", ErrInvalidSchema, f.ID, f.Type)
	}
	return nil
}

// ValidateSchema checks a complete form definition: it must be non-empty,
// every field must be valid and ids must be unique.
func ValidateSchema(fields []FieldSpec) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrInvalidSchema)
	}
	seen := make(map[string]int, len(fields))
	for i, f := range fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if prev, ok := seen[f.ID]; ok {
			return fmt.Errorf("%w: fields[%d] id %q duplicates fields[%d]", ErrInvalidSchema, i, f.ID, prev)
		}
		seen[f.ID] = i
	}
	return nil
}

// Span is a half-open byte range [Start, End) into the normalized utterance.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Source records where a value came from.
type Source string

const (
	// SourceRule marks values produced by the deterministic extractor.
	SourceRule Source = "rule"
	// SourceLLM marks values produced by an optional LLM enhancer.
	SourceLLM Source = "llm"
	// SourceUser marks values the user confirmed or edited explicitly.
	SourceUser Source = "user"
)

// FieldValue is the current value of one field in one session.
type FieldValue struct {
	Value      Value   `json:"value"`
	Confidence float64 `json:"confidence"`
	SourceTurn int     `json:"source_turn"`
	SourceSpan *Span   `json:"source_span,omitempty"`

	// Locked is set once the user explicitly confirmed or corrected the
	// value. Automatic extraction never overwrites a locked value.
	Locked bool   `json:"locked"`
	Source Source `json:"source"`
}

// Utterance is one user turn of already transcribed text.
type Utterance struct {
	Text      string    `json:"text"`
	TurnIndex int       `json:"turn_index"`
	Timestamp time.Time `json:"timestamp"`
}

// Candidate is the transient output of an extractor before it is merged into
// the session.
type Candidate struct {
	FieldID    string  `json:"field_id"`
	Value      Value   `json:"value"`
	Confidence float64 `json:"confidence"`
	Span       *Span   `json:"span,omitempty"`
	Source     Source  `json:"source"`
}

// Contradiction records mutually exclusive values heard for the same field.
// Values keeps every distinct value in the order it was first heard; Turns
// holds the turn index of each entry in Values.
type Contradiction struct {
	FieldID string  `json:"field_id"`
	Values  []Value `json:"values"`
	Turns   []int   `json:"turns"`
}

// Has reports whether v is one of the contradicting values.
func (c Contradiction) Has(v Value) bool {
	for _, x := range c.Values {
		if x.Equal(v) {
			return true
		}
	}
	return false
}

// ClampConfidence limits c to the closed interval [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
