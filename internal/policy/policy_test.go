package policy_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/DanielWill-1/audentra/internal/policy"
	"github.com/DanielWill-1/audentra/internal/state"
	"github.com/DanielWill-1/audentra/pkg/form"
)

func session() form.Session {
	return form.NewSession("s1", []form.FieldSpec{
		{ID: "name", Type: form.TypeText, Required: true},
		{ID: "email", Type: form.TypeEmail, Required: true},
		{ID: "phone", Type: form.TypeText, Label: "Phone", Required: true},
		{ID: "company", Type: form.TypeText},
		{ID: "notes", Type: form.TypeTextarea},
	}, time.Now())
}

func fill(s form.Session, ids ...string) form.Session {
	for _, id := range ids {
		s.Values[id] = form.FieldValue{Value: form.TextValue("x-" + id), Confidence: 0.9}
	}
	return s
}

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(form.Session) form.Session
		want    form.Decision
		options []policy.Option
	}{
		{
			name:  "required capped at two in declaration order",
			setup: func(s form.Session) form.Session { return s },
			want:  form.Decision{Action: form.ActionAskRequired, TargetFieldIDs: []string{"name", "email"}},
		},
		{
			name:  "required before optional",
			setup: func(s form.Session) form.Session { return fill(s, "name", "email") },
			want:  form.Decision{Action: form.ActionAskRequired, TargetFieldIDs: []string{"phone"}},
		},
		{
			name: "low confidence counts as missing",
			setup: func(s form.Session) form.Session {
				s = fill(s, "name", "email", "phone")
				s.Values["phone"] = form.FieldValue{Value: form.TextValue("1"), Confidence: 0.3}
				return s
			},
			want: form.Decision{Action: form.ActionAskRequired, TargetFieldIDs: []string{"phone"}},
		},
		{
			name: "clarification first and capped at one",
			setup: func(s form.Session) form.Session {
				s.Contradictions["email"] = form.Contradiction{FieldID: "email"}
				s.Contradictions["phone"] = form.Contradiction{FieldID: "phone"}
				return s
			},
			want: form.Decision{Action: form.ActionAskClarification, TargetFieldIDs: []string{"email"}},
		},
		{
			name:  "optional soft prompt, one per turn",
			setup: func(s form.Session) form.Session { return fill(s, "name", "email", "phone") },
			want:  form.Decision{Action: form.ActionConfirmOptional, TargetFieldIDs: []string{"company"}},
		},
		{
			name: "optional prompted only once",
			setup: func(s form.Session) form.Session {
				s = fill(s, "name", "email", "phone")
				s.Prompted["company"] = true
				return s
			},
			want: form.Decision{Action: form.ActionConfirmOptional, TargetFieldIDs: []string{"notes"}},
		},
		{
			name: "complete",
			setup: func(s form.Session) form.Session {
				s = fill(s, "name", "email", "phone", "company")
				s.Prompted["notes"] = true
				return s
			},
			want: form.Decision{Action: form.ActionComplete},
		},
		{
			name: "abandoned completes without targets",
			setup: func(s form.Session) form.Session {
				s.Status = form.StatusAbandoned
				return s
			},
			want: form.Decision{Action: form.ActionComplete},
		},
		{
			name:    "custom required cap",
			setup:   func(s form.Session) form.Session { return s },
			options: []policy.Option{policy.WithMaxRequired(3)},
			want:    form.Decision{Action: form.ActionAskRequired, TargetFieldIDs: []string{"name", "email", "phone"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := policy.New(tt.options...).Decide(tt.setup(session()))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecide_IsPure(t *testing.T) {
	t.Parallel()

	s := fill(session(), "name", "email", "phone")
	p := policy.New()
	first := p.Decide(s)
	second := p.Decide(s)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Decide not deterministic: %+v vs %+v", first, second)
	}
	if len(s.Prompted) != 0 {
		t.Error("Decide mutated the session")
	}
}

func TestDecide_AgreesWithStatusAtThreshold(t *testing.T) {
	t.Parallel()

	// 0.1*3 computed at run time lands just above 0.3.
	step := 0.1
	threshold := step * 3

	s := form.NewSession("s1", []form.FieldSpec{{ID: "name", Type: form.TypeText, Required: true}}, time.Now())
	s.Values["name"] = form.FieldValue{Value: form.TextValue("Ann"), Confidence: 0.3}

	m := state.New(state.WithAcceptThreshold(threshold))
	if got := m.Evaluate(s); got != form.StatusReady {
		t.Fatalf("Evaluate = %q, want ready", got)
	}
	d := policy.New(policy.WithAcceptThreshold(threshold)).Decide(s)
	if d.Action != form.ActionComplete {
		t.Errorf("Decide = %+v, want complete for a ready session", d)
	}
}
