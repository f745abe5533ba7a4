// Package state merges extraction candidates into a session.
//
// The [Manager] enforces the session invariants: one value per field,
// locked values are immune to automatic extraction, a higher-confidence
// reading never loses to a stored lower-confidence one, and conflicting
// readings are surfaced as contradictions instead of being resolved by
// guessing. Every method returns a new [form.Session]; the input is never
// modified.
package state

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/DanielWill-1/audentra/pkg/form"
)

// DefaultAcceptThreshold is the minimum confidence at which a required field
// counts as filled.
const DefaultAcceptThreshold = 0.5

// DefaultCorrectionCues mark an utterance as a self-correction. A candidate
// that ties an existing value replaces it silently when one of these appears.
var DefaultCorrectionCues = []string{
	"actually", "sorry", "i mean", "correction", "instead", "wait", "no,", "scratch that",
}

// Option is a functional option for [New].
type Option func(*Manager)

// WithAcceptThreshold sets the confidence at which required fields count as
// filled. Default: [DefaultAcceptThreshold].
func WithAcceptThreshold(t float64) Option {
	return func(m *Manager) {
		m.threshold = t
	}
}

// WithCorrectionCues replaces the correction vocabulary.
func WithCorrectionCues(cues []string) Option {
	return func(m *Manager) {
		m.cues = make([]string, 0, len(cues))
		for _, c := range cues {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				m.cues = append(m.cues, c)
			}
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager is stateless after construction and safe for concurrent use.
type Manager struct {
	threshold float64
	cues      []string
	now       func() time.Time
}

// New returns a Manager with default threshold and correction cues.
func New(opts ...Option) *Manager {
	m := &Manager{threshold: DefaultAcceptThreshold, now: time.Now}
	WithCorrectionCues(DefaultCorrectionCues)(m)
	for _, o := range opts {
		o(m)
	}
	return m
}

// AcceptThreshold returns the configured acceptance threshold.
func (m *Manager) AcceptThreshold() float64 { return m.threshold }

// MergeReport summarises what one merge changed. All lists follow field
// declaration order.
type MergeReport struct {
	// Accepted lists fields whose value changed.
	Accepted []string

	// Contradicted lists fields that gained or extended a contradiction.
	Contradicted []string

	// Resolved lists fields whose contradiction was settled by this merge.
	Resolved []string

	// Discarded lists fields whose candidate was dropped without effect,
	// because the field is locked or the value was already known.
	Discarded []string
}

// Merge records u in the history and merges cands into s. Candidates for
// fields that are not part of the schema are ignored.
func (m *Manager) Merge(s form.Session, u form.Utterance, cands []form.Candidate) (form.Session, MergeReport) {
	out := s.Clone()
	out.History = append(out.History, u)
	rep := m.merge(&out, u.TurnIndex, u.Text, cands)
	out.Status = m.Evaluate(out)
	out.UpdatedAt = m.stamp(u.Timestamp)
	return out, rep
}

// MergeLate merges candidates computed for an already recorded turn, such as
// the output of an asynchronous enhancer. The history is not modified. The
// caller is responsible for rejecting stale turns.
func (m *Manager) MergeLate(s form.Session, turn int, cands []form.Candidate) (form.Session, MergeReport) {
	out := s.Clone()
	var text string
	for _, u := range s.History {
		if u.TurnIndex == turn {
			text = u.Text
		}
	}
	rep := m.merge(&out, turn, text, cands)
	out.Status = m.Evaluate(out)
	out.UpdatedAt = m.now()
	return out, rep
}

func (m *Manager) merge(s *form.Session, turn int, text string, cands []form.Candidate) MergeReport {
	correcting := m.HasCorrectionCue(text)
	var accepted, contradicted, resolved, discarded []string

	for _, c := range cands {
		if _, ok := s.Field(c.FieldID); !ok {
			slog.Debug("state: candidate for unknown field ignored", "session_id", s.ID, "field", c.FieldID)
			continue
		}
		if c.Value.IsZero() {
			continue
		}
		c.Confidence = form.ClampConfidence(c.Confidence)
		incoming := form.FieldValue{
			Value:      c.Value,
			Confidence: c.Confidence,
			SourceTurn: turn,
			SourceSpan: c.Span,
			Source:     c.Source,
		}
		existing, has := s.Values[c.FieldID]
		open, clarifying := s.Contradictions[c.FieldID]

		switch {
		case has && existing.Locked:
			slog.Debug("state: candidate for locked field discarded",
				"session_id", s.ID, "field", c.FieldID, "turn", turn)
			discarded = append(discarded, c.FieldID)

		case clarifying:
			// The field is waiting for the user to pick one of the values
			// heard so far. Repeating one of them settles it; any other value
			// joins the list, correction cue or not.
			if open.Has(c.Value) {
				incoming.Confidence = max(incoming.Confidence, existing.Confidence)
				s.Values[c.FieldID] = incoming
				delete(s.Contradictions, c.FieldID)
				accepted = append(accepted, c.FieldID)
				resolved = append(resolved, c.FieldID)
				continue
			}
			open.Values = append(open.Values, c.Value)
			open.Turns = append(open.Turns, turn)
			s.Contradictions[c.FieldID] = open
			contradicted = append(contradicted, c.FieldID)

		case !has || existing.Value.IsZero():
			s.Values[c.FieldID] = incoming
			accepted = append(accepted, c.FieldID)

		case existing.Value.Equal(c.Value):
			if greater(c.Confidence, existing.Confidence) {
				existing.Confidence = c.Confidence
				s.Values[c.FieldID] = existing
			}
			discarded = append(discarded, c.FieldID)

		case greater(c.Confidence, existing.Confidence):
			s.Values[c.FieldID] = incoming
			accepted = append(accepted, c.FieldID)

		case equal(c.Confidence, existing.Confidence):
			s.Values[c.FieldID] = incoming
			accepted = append(accepted, c.FieldID)
			if !correcting {
				s.Contradictions[c.FieldID] = form.Contradiction{
					FieldID: c.FieldID,
					Values:  []form.Value{existing.Value, c.Value},
					Turns:   []int{existing.SourceTurn, turn},
				}
				contradicted = append(contradicted, c.FieldID)
			}

		default:
			s.Contradictions[c.FieldID] = form.Contradiction{
				FieldID: c.FieldID,
				Values:  []form.Value{existing.Value, c.Value},
				Turns:   []int{existing.SourceTurn, turn},
			}
			contradicted = append(contradicted, c.FieldID)
		}
	}

	return MergeReport{
		Accepted:     inOrder(*s, accepted),
		Contradicted: inOrder(*s, contradicted),
		Resolved:     inOrder(*s, resolved),
		Discarded:    inOrder(*s, discarded),
	}
}

// ApplyCorrection sets a field from explicit user input. The value is locked
// at confidence 1 and any contradiction on the field is resolved. An empty
// raw value clears and unlocks the field.
func (m *Manager) ApplyCorrection(s form.Session, fieldID, raw string) (form.Session, error) {
	field, ok := s.Field(fieldID)
	if !ok {
		return s, fmt.Errorf("state: apply correction %q: %w", fieldID, form.ErrUnknownField)
	}
	v, err := form.ParseValue(field, raw)
	if err != nil {
		return s, fmt.Errorf("state: apply correction: %w", err)
	}

	out := s.Clone()
	if v.IsZero() {
		delete(out.Values, fieldID)
	} else {
		out.Values[fieldID] = form.FieldValue{
			Value:      v,
			Confidence: 1,
			SourceTurn: s.LastTurn(),
			Locked:     true,
			Source:     form.SourceUser,
		}
	}
	delete(out.Contradictions, fieldID)
	out.Status = m.Evaluate(out)
	out.UpdatedAt = m.now()
	return out, nil
}

// Evaluate derives the status of s. Abandoned is sticky; any open
// contradiction means clarifying; every required field filled at or above the
// acceptance threshold means ready.
func (m *Manager) Evaluate(s form.Session) form.Status {
	if s.Status == form.StatusAbandoned {
		return form.StatusAbandoned
	}
	if len(s.Contradictions) > 0 {
		return form.StatusClarifying
	}
	for _, f := range s.Fields {
		if f.Required && !m.Filled(s, f.ID) {
			return form.StatusCollecting
		}
	}
	return form.StatusReady
}

// Filled reports whether field id holds a value at or above the acceptance
// threshold.
func (m *Manager) Filled(s form.Session, id string) bool {
	fv, ok := s.Values[id]
	return ok && Accepted(fv, m.threshold)
}

// Accepted reports whether fv holds a value at or above threshold. Scores
// within floating-point noise of the threshold count as reaching it.
func Accepted(fv form.FieldValue, threshold float64) bool {
	return !fv.Value.IsZero() && (fv.Confidence >= threshold || equal(fv.Confidence, threshold))
}

// HasCorrectionCue reports whether text contains a self-correction phrase.
func (m *Manager) HasCorrectionCue(text string) bool {
	lower := strings.ToLower(text)
	for _, cue := range m.cues {
		for from := 0; from < len(lower); {
			idx := strings.Index(lower[from:], cue)
			if idx < 0 {
				break
			}
			start, end := from+idx, from+idx+len(cue)
			before := start == 0 || !isLetter(lower[start-1])
			after := end == len(lower) || !isLetter(lower[end-1]) || !isLetter(lower[end])
			if before && after {
				return true
			}
			from = start + 1
		}
	}
	return false
}

func isLetter(b byte) bool { return b >= 'a' && b <= 'z' || b >= 0x80 }

// Close marks s abandoned.
func (m *Manager) Close(s form.Session) form.Session {
	out := s.Clone()
	out.Status = form.StatusAbandoned
	out.UpdatedAt = m.now()
	return out
}

func (m *Manager) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return m.now()
	}
	return t
}

const epsilon = 1e-9

func equal(a, b float64) bool   { return math.Abs(a-b) < epsilon }
func greater(a, b float64) bool { return a-b >= epsilon }

// inOrder returns the distinct ids in ids sorted by field declaration order.
func inOrder(s form.Session, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	var out []string
	for _, f := range s.Fields {
		if slices.Contains(ids, f.ID) {
			out = append(out, f.ID)
		}
	}
	return out
}
