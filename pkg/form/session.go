package form

import (
	"maps"
	"slices"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusClarifying Status = "clarifying"
	StatusReady      Status = "ready"
	StatusAbandoned  Status = "abandoned"
)

// Active reports whether the session is still collecting answers. Only
// active sessions are subject to the inactivity timeout.
func (s Status) Active() bool {
	return s == StatusCollecting || s == StatusClarifying
}

// Session is the complete state of one form-filling conversation.
type Session struct {
	ID     string                `json:"session_id"`
	Fields []FieldSpec           `json:"fields"`
	Values map[string]FieldValue `json:"values"`

	// History holds every accepted utterance in turn order.
	History []Utterance `json:"history"`
	Status  Status      `json:"status"`

	// Contradictions holds the unresolved conflicts keyed by field id.
	Contradictions map[string]Contradiction `json:"contradictions,omitempty"`

	// Prompted records optional fields that already received their single
	// soft prompt.
	Prompted map[string]bool `json:"prompted,omitempty"`

	// Version increases by one on every persisted change.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns an empty collecting session over fields.
func NewSession(id string, fields []FieldSpec, now time.Time) Session {
	return Session{
		ID:             id,
		Fields:         slices.Clone(fields),
		Values:         make(map[string]FieldValue),
		Status:         StatusCollecting,
		Contradictions: make(map[string]Contradiction),
		Prompted:       make(map[string]bool),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Field returns the spec with the given id.
func (s Session) Field(id string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// LastTurn returns the index of the most recent utterance, or 0 when the
// history is empty.
func (s Session) LastTurn() int {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[len(s.History)-1].TurnIndex
}

// NextTurn returns the turn index the next utterance will receive. Turn
// indices start at 1.
func (s Session) NextTurn() int { return s.LastTurn() + 1 }

// Clone returns a deep copy of s. Pipeline stages clone their input before
// producing a new session so callers never observe in-place mutation.
func (s Session) Clone() Session {
	c := s
	c.Fields = make([]FieldSpec, len(s.Fields))
	for i, f := range s.Fields {
		f.Options = slices.Clone(f.Options)
		c.Fields[i] = f
	}
	c.Values = make(map[string]FieldValue, len(s.Values))
	for k, v := range s.Values {
		c.Values[k] = v.clone()
	}
	c.History = slices.Clone(s.History)
	c.Contradictions = make(map[string]Contradiction, len(s.Contradictions))
	for k, v := range s.Contradictions {
		c.Contradictions[k] = Contradiction{
			FieldID: v.FieldID,
			Values:  cloneValues(v.Values),
			Turns:   slices.Clone(v.Turns),
		}
	}
	c.Prompted = maps.Clone(s.Prompted)
	if c.Prompted == nil {
		c.Prompted = make(map[string]bool)
	}
	return c
}

func (fv FieldValue) clone() FieldValue {
	fv.Value.Choices = slices.Clone(fv.Value.Choices)
	if fv.SourceSpan != nil {
		sp := *fv.SourceSpan
		fv.SourceSpan = &sp
	}
	return fv
}

func cloneValues(vs []Value) []Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		v.Choices = slices.Clone(v.Choices)
		out[i] = v
	}
	return out
}

// Action is the next step chosen by the dialog policy.
type Action string

const (
	ActionAskClarification Action = "ask_clarification"
	ActionAskRequired      Action = "ask_required"
	ActionConfirmOptional  Action = "confirm_optional"
	ActionComplete         Action = "complete"
)

// Decision is the output of the dialog policy for one turn.
type Decision struct {
	Action         Action   `json:"action"`
	TargetFieldIDs []string `json:"target_field_ids"`
}
