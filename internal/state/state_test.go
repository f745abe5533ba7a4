package state_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DanielWill-1/audentra/internal/state"
	"github.com/DanielWill-1/audentra/pkg/form"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newManager() *state.Manager {
	return state.New(state.WithClock(func() time.Time { return fixedNow }))
}

func newSession() form.Session {
	return form.NewSession("s1", []form.FieldSpec{
		{ID: "name", Type: form.TypeText, Required: true},
		{ID: "email", Type: form.TypeEmail, Required: true},
		{ID: "phone", Type: form.TypeText, Label: "Phone", Required: true},
		{ID: "notes", Type: form.TypeTextarea},
	}, fixedNow)
}

func utter(turn int, text string) form.Utterance {
	return form.Utterance{Text: text, TurnIndex: turn, Timestamp: fixedNow.Add(time.Duration(turn) * time.Second)}
}

func cand(field string, v form.Value, conf float64) form.Candidate {
	return form.Candidate{FieldID: field, Value: v, Confidence: conf, Source: form.SourceRule}
}

func TestMerge_AdoptsIntoEmptySession(t *testing.T) {
	t.Parallel()

	m := newManager()
	s := newSession()
	out, rep := m.Merge(s, utter(1, "I'm John, john@example.com"), []form.Candidate{
		cand("name", form.TextValue("John"), 0.6),
		cand("email", form.EmailValue("john@example.com"), 0.95),
	})

	if len(s.History) != 0 || len(s.Values) != 0 {
		t.Fatal("input session was modified")
	}
	if len(out.History) != 1 || out.History[0].TurnIndex != 1 {
		t.Fatalf("history = %+v", out.History)
	}
	if got := out.Values["email"]; got.SourceTurn != 1 || got.Confidence != 0.95 || got.Locked {
		t.Errorf("email = %+v", got)
	}
	if !reflect.DeepEqual(rep.Accepted, []string{"name", "email"}) {
		t.Errorf("Accepted = %v", rep.Accepted)
	}
	if out.Status != form.StatusCollecting {
		t.Errorf("Status = %q, want collecting (phone missing)", out.Status)
	}
}

func TestMerge_HistoryAppendedWithoutCandidates(t *testing.T) {
	t.Parallel()

	m := newManager()
	out, rep := m.Merge(newSession(), utter(1, "hello"), nil)
	if len(out.History) != 1 {
		t.Errorf("history len = %d, want 1", len(out.History))
	}
	if rep.Accepted != nil || rep.Contradicted != nil {
		t.Errorf("report = %+v, want empty", rep)
	}
}

func TestMerge_RepeatIsIdempotent(t *testing.T) {
	t.Parallel()

	m := newManager()
	c := []form.Candidate{cand("email", form.EmailValue("a@example.com"), 0.95)}
	once, _ := m.Merge(newSession(), utter(1, "a@example.com"), c)
	twice, rep := m.Merge(once, utter(2, "a@example.com"), c)

	if !reflect.DeepEqual(once.Values, twice.Values) {
		t.Errorf("values changed on repeat:\n%+v\n%+v", once.Values, twice.Values)
	}
	if len(twice.Contradictions) != 0 {
		t.Errorf("repeat produced contradiction: %+v", twice.Contradictions)
	}
	if !reflect.DeepEqual(rep.Discarded, []string{"email"}) {
		t.Errorf("Discarded = %v", rep.Discarded)
	}
}

func TestMerge_HigherConfidenceWins(t *testing.T) {
	t.Parallel()

	m := newManager()
	s, _ := m.Merge(newSession(), utter(1, "x"), []form.Candidate{cand("name", form.TextValue("Jon"), 0.55)})
	s, rep := m.Merge(s, utter(2, "y"), []form.Candidate{cand("name", form.TextValue("John"), 0.6)})

	if got := s.Values["name"].Value.String(); got != "John" {
		t.Errorf("name = %q, want John", got)
	}
	if len(s.Contradictions) != 0 || rep.Contradicted != nil {
		t.Errorf("unexpected contradiction %+v", s.Contradictions)
	}
}

func TestMerge_LowerConfidenceRecordsContradiction(t *testing.T) {
	t.Parallel()

	m := newManager()
	s, _ := m.Merge(newSession(), utter(1, "x"), []form.Candidate{cand("name", form.TextValue("John"), 0.6)})
	s, rep := m.Merge(s, utter(2, "y"), []form.Candidate{cand("name", form.TextValue("Jane"), 0.5)})

	if got := s.Values["name"].Value.String(); got != "John" {
		t.Errorf("name = %q, want John kept", got)
	}
	c, ok := s.Contradictions["name"]
	if !ok {
		t.Fatal("no contradiction recorded")
	}
	if len(c.Values) != 2 || c.Values[0].String() != "John" || c.Values[1].String() != "Jane" {
		t.Errorf("contradiction values = %+v", c.Values)
	}
	if !reflect.DeepEqual(c.Turns, []int{1, 2}) {
		t.Errorf("turns = %v", c.Turns)
	}
	if s.Status != form.StatusClarifying {
		t.Errorf("Status = %q, want clarifying", s.Status)
	}
	if !reflect.DeepEqual(rep.Contradicted, []string{"name"}) {
		t.Errorf("Contradicted = %v", rep.Contradicted)
	}
}

func TestMerge_EqualConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		second            string
		wantContradiction bool
	}{
		{"no cue contradicts", "my phone is 555-999-8888", true},
		{"correction cue overrides", "actually my phone is 555-999-8888", false},
		{"no comma cue", "no, it's 555-999-8888", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newManager()
			s, _ := m.Merge(newSession(), utter(1, "555-111-2222"), []form.Candidate{cand("phone", form.PhoneValue("555-111-2222"), 0.9)})
			s, _ = m.Merge(s, utter(2, tt.second), []form.Candidate{cand("phone", form.PhoneValue("555-999-8888"), 0.9)})

			if got := s.Values["phone"].Value.String(); got != "555-999-8888" {
				t.Errorf("phone = %q, want latest value adopted", got)
			}
			_, open := s.Contradictions["phone"]
			if open != tt.wantContradiction {
				t.Errorf("contradiction open = %v, want %v", open, tt.wantContradiction)
			}
		})
	}
}

func TestMerge_ClarificationAnsweredByVoice(t *testing.T) {
	t.Parallel()

	m := newManager()
	s, _ := m.Merge(newSession(), utter(1, "a"), []form.Candidate{cand("phone", form.PhoneValue("555-111-2222"), 0.9)})
	s, _ = m.Merge(s, utter(2, "b"), []form.Candidate{cand("phone", form.PhoneValue("555-999-8888"), 0.9)})

	// A third distinct value is surfaced, never guessed.
	s, rep := m.Merge(s, utter(3, "c"), []form.Candidate{cand("phone", form.PhoneValue("555-333-4444"), 0.9)})
	if c := s.Contradictions["phone"]; len(c.Values) != 3 {
		t.Fatalf("contradiction values = %+v, want 3", c.Values)
	}
	if !reflect.DeepEqual(rep.Contradicted, []string{"phone"}) {
		t.Errorf("Contradicted = %v", rep.Contradicted)
	}
	if s.Status != form.StatusClarifying {
		t.Fatalf("Status = %q", s.Status)
	}

	// A correction cue does not settle it on a value nobody heard before.
	s, rep = m.Merge(s, utter(4, "sorry, my phone is 555-444-5555"), []form.Candidate{cand("phone", form.PhoneValue("555-444-5555"), 0.9)})
	if _, open := s.Contradictions["phone"]; !open || s.Status != form.StatusClarifying {
		t.Fatalf("cued new value resolved the clarification: status=%q", s.Status)
	}
	if len(rep.Resolved) != 0 || !reflect.DeepEqual(rep.Contradicted, []string{"phone"}) {
		t.Errorf("Resolved = %v, Contradicted = %v", rep.Resolved, rep.Contradicted)
	}
	if c := s.Contradictions["phone"]; len(c.Values) != 4 || c.Turns[3] != 4 {
		t.Fatalf("contradiction = %+v, want the cued value listed at turn 4", c)
	}

	s, rep = m.Merge(s, utter(5, "the first one, 555-111-2222"), []form.Candidate{cand("phone", form.PhoneValue("(555) 111-2222"), 0.9)})
	if _, open := s.Contradictions["phone"]; open {
		t.Error("contradiction not resolved by repeating an alternative")
	}
	if got := s.Values["phone"].Value.Key(); got != "5551112222" {
		t.Errorf("phone key = %q", got)
	}
	if !reflect.DeepEqual(rep.Resolved, []string{"phone"}) {
		t.Errorf("Resolved = %v", rep.Resolved)
	}
}

func TestMerge_LockedFieldImmutable(t *testing.T) {
	t.Parallel()

	m := newManager()
	s, err := m.ApplyCorrection(newSession(), "name", "John Smith")
	if err != nil {
		t.Fatal(err)
	}
	s, rep := m.Merge(s, utter(1, "I'm Bob"), []form.Candidate{cand("name", form.TextValue("Bob"), 0.99)})
	if got := s.Values["name"]; got.Value.String() != "John Smith" || !got.Locked {
		t.Errorf("locked value changed: %+v", got)
	}
	if len(s.Contradictions) != 0 {
		t.Errorf("locked field gained contradiction")
	}
	if !reflect.DeepEqual(rep.Discarded, []string{"name"}) {
		t.Errorf("Discarded = %v", rep.Discarded)
	}
}

func TestMerge_UnknownFieldAndClamp(t *testing.T) {
	t.Parallel()

	m := newManager()
	s, rep := m.Merge(newSession(), utter(1, "x"), []form.Candidate{
		cand("ghost", form.TextValue("boo"), 0.9),
		cand("name", form.TextValue("Ann"), 1.7),
	})
	if _, ok := s.Values["ghost"]; ok {
		t.Error("value stored for unknown field")
	}
	if got := s.Values["name"].Confidence; got != 1 {
		t.Errorf("confidence = %v, want clamped to 1", got)
	}
	if !reflect.DeepEqual(rep.Accepted, []string{"name"}) {
		t.Errorf("Accepted = %v", rep.Accepted)
	}
}

func TestApplyCorrection(t *testing.T) {
	t.Parallel()

	m := newManager()
	s, _ := m.Merge(newSession(), utter(1, "a"), []form.Candidate{
		cand("name", form.TextValue("John"), 0.6),
		cand("email", form.EmailValue("j@example.com"), 0.95),
		cand("phone", form.PhoneValue("555-111-2222"), 0.9),
	})
	s, _ = m.Merge(s, utter(2, "b"), []form.Candidate{cand("phone", form.PhoneValue("555-999-8888"), 0.9)})
	if s.Status != form.StatusClarifying {
		t.Fatalf("precondition: Status = %q", s.Status)
	}

	out, err := m.ApplyCorrection(s, "phone", "555-111-2222")
	if err != nil {
		t.Fatal(err)
	}
	got := out.Values["phone"]
	if !got.Locked || got.Confidence != 1 || got.Source != form.SourceUser || got.Value.String() != "555-111-2222" {
		t.Errorf("phone = %+v", got)
	}
	if len(out.Contradictions) != 0 {
		t.Error("contradiction not resolved")
	}
	if out.Status != form.StatusReady {
		t.Errorf("Status = %q, want ready", out.Status)
	}
	if _, open := s.Contradictions["phone"]; !open {
		t.Error("input session was modified")
	}
}

func TestApplyCorrection_Errors(t *testing.T) {
	t.Parallel()

	m := newManager()
	s := newSession()

	if _, err := m.ApplyCorrection(s, "nope", "x"); !errors.Is(err, form.ErrUnknownField) {
		t.Errorf("unknown field error = %v", err)
	}
	if _, err := m.ApplyCorrection(s, "email", "not-an-address"); !errors.Is(err, form.ErrInvalidValue) {
		t.Errorf("invalid value error = %v", err)
	}
}

func TestApplyCorrection_EmptyClears(t *testing.T) {
	t.Parallel()

	m := newManager()
	s, _ := m.Merge(newSession(), utter(1, "a"), []form.Candidate{
		cand("name", form.TextValue("John"), 0.6),
		cand("email", form.EmailValue("j@example.com"), 0.95),
		cand("phone", form.PhoneValue("555-111-2222"), 0.9),
	})
	if s.Status != form.StatusReady {
		t.Fatalf("precondition: Status = %q", s.Status)
	}
	s, err := m.ApplyCorrection(s, "email", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Values["email"]; ok {
		t.Error("email not cleared")
	}
	if s.Status != form.StatusCollecting {
		t.Errorf("Status = %q, want collecting", s.Status)
	}
}

func TestMergeLate(t *testing.T) {
	t.Parallel()

	m := newManager()
	s, _ := m.Merge(newSession(), utter(1, "notes are about parking"), nil)
	s, rep := m.MergeLate(s, 1, []form.Candidate{{FieldID: "notes", Value: form.TextValue("parking"), Confidence: 0.7, Source: form.SourceLLM}})

	if len(s.History) != 1 {
		t.Errorf("history len = %d, want 1", len(s.History))
	}
	if got := s.Values["notes"]; got.SourceTurn != 1 || got.Source != form.SourceLLM {
		t.Errorf("notes = %+v", got)
	}
	if !reflect.DeepEqual(rep.Accepted, []string{"notes"}) {
		t.Errorf("Accepted = %v", rep.Accepted)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	m := newManager()
	s := newSession()
	if got := m.Evaluate(s); got != form.StatusCollecting {
		t.Errorf("empty = %q", got)
	}

	s.Values["name"] = form.FieldValue{Value: form.TextValue("A"), Confidence: 0.6}
	s.Values["email"] = form.FieldValue{Value: form.EmailValue("a@b.co"), Confidence: 0.95}
	s.Values["phone"] = form.FieldValue{Value: form.PhoneValue("5551112222"), Confidence: 0.4}
	if got := m.Evaluate(s); got != form.StatusCollecting {
		t.Errorf("below threshold = %q", got)
	}

	s.Values["phone"] = form.FieldValue{Value: form.PhoneValue("5551112222"), Confidence: 0.5}
	if got := m.Evaluate(s); got != form.StatusReady {
		t.Errorf("at threshold = %q", got)
	}

	s.Status = form.StatusAbandoned
	if got := m.Evaluate(s); got != form.StatusAbandoned {
		t.Errorf("abandoned not sticky: %q", got)
	}
}

func TestHasCorrectionCue(t *testing.T) {
	t.Parallel()

	m := state.New()
	tests := []struct {
		text string
		want bool
	}{
		{"actually it's Jane", true},
		{"Sorry, I meant Tuesday", true},
		{"I mean the blue one", true},
		{"No, 555-999-8888", true},
		{"nothing to add", false},
		{"the waiter was rude", false},
		{"piano, please", false},
	}
	for _, tt := range tests {
		if got := m.HasCorrectionCue(tt.text); got != tt.want {
			t.Errorf("HasCorrectionCue(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
