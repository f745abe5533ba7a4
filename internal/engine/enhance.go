package engine

import (
	"context"
	"errors"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DanielWill-1/audentra/internal/observe"
	"github.com/DanielWill-1/audentra/internal/state"
	"github.com/DanielWill-1/audentra/pkg/form"
)

// Enhancement outcomes reported on the enhancement counter.
const (
	enhanceApplied = "applied"
	enhanceStale   = "stale"
	enhanceEmpty   = "empty"
	enhanceFailed  = "failed"
)

// LLMEnhancer proposes candidates for one turn with a language model. It
// runs after the deterministic turn has been committed, and its output only
// applies while that turn is still the session's latest.
//
// Implementations must be safe for concurrent use.
type LLMEnhancer interface {
	Extract(ctx context.Context, transcript string, fields []form.FieldSpec, snapshot map[string]form.FieldValue) ([]form.Candidate, error)
}

// NopEnhancer proposes nothing. It is the engine's default.
type NopEnhancer struct{}

// Extract returns no candidates.
func (NopEnhancer) Extract(context.Context, string, []form.FieldSpec, map[string]form.FieldValue) ([]form.Candidate, error) {
	return nil, nil
}

var _ LLMEnhancer = NopEnhancer{}

// EnhancementEvent describes an enhancement that was merged into a session.
type EnhancementEvent struct {
	SessionID string
	Turn      int
	Report    state.MergeReport
	Session   form.Session
}

// enhanceAsync starts the enhancer for turn u of s in the background. The
// goroutine is detached from ctx's cancellation but keeps its trace.
func (e *Engine) enhanceAsync(ctx context.Context, s form.Session, u form.Utterance) {
	if _, nop := e.enhancer.(NopEnhancer); nop {
		return
	}
	fields := s.Fields
	snapshot := maps.Clone(s.Values)
	ctx = context.WithoutCancel(ctx)

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		e.enhance(ctx, s.ID, u, fields, snapshot)
	}()
}

func (e *Engine) enhance(ctx context.Context, id string, u form.Utterance, fields []form.FieldSpec, snapshot map[string]form.FieldValue) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, id), "engine.Enhance",
		trace.WithAttributes(attribute.Int("turn", u.TurnIndex)))
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()
	log := observe.Logger(ctx).With("turn", u.TurnIndex)

	cands, err := e.extractWithRetry(ctx, u.Text, fields, snapshot)
	if err != nil {
		spanErr = err
		log.Warn("engine: enhancement failed, keeping rule-based result", "err", err)
		e.metrics.RecordEnhancement(ctx, enhanceFailed)
		return
	}
	cands = e.sanitize(cands, fields)
	if len(cands) == 0 {
		e.metrics.RecordEnhancement(ctx, enhanceEmpty)
		return
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	s, err := e.store.Get(ctx, id)
	if err != nil {
		spanErr = err
		log.Warn("engine: enhancement could not load session", "err", err)
		e.metrics.RecordEnhancement(ctx, enhanceFailed)
		return
	}
	if s.LastTurn() != u.TurnIndex || s.Status == form.StatusAbandoned {
		log.Debug("engine: stale enhancement discarded", "latest_turn", s.LastTurn(), "status", s.Status)
		e.metrics.RecordEnhancement(ctx, enhanceStale)
		return
	}

	next, rep := e.pipeline.Load().state.MergeLate(s, u.TurnIndex, cands)
	if len(rep.Accepted) == 0 && len(rep.Contradicted) == 0 {
		e.metrics.RecordEnhancement(ctx, enhanceEmpty)
		return
	}
	if err := e.commit(ctx, s, &next); err != nil {
		if errors.Is(err, form.ErrVersionConflict) {
			e.metrics.RecordEnhancement(ctx, enhanceStale)
			return
		}
		spanErr = err
		log.Warn("engine: enhancement could not be stored", "err", err)
		e.metrics.RecordEnhancement(ctx, enhanceFailed)
		return
	}
	for _, c := range cands {
		f, _ := next.Field(c.FieldID)
		e.metrics.RecordCandidate(ctx, string(f.Type), string(form.SourceLLM))
	}
	if len(rep.Contradicted) > 0 {
		e.metrics.Contradictions.Add(ctx, int64(len(rep.Contradicted)))
	}
	e.metrics.RecordEnhancement(ctx, enhanceApplied)
	log.Info("engine: enhancement applied", "accepted", rep.Accepted, "contradicted", rep.Contradicted)

	if e.onEnhance != nil {
		e.onEnhance(EnhancementEvent{SessionID: id, Turn: u.TurnIndex, Report: rep, Session: next})
	}
}

// extractWithRetry calls the enhancer at most twice, each attempt bounded by
// the enhancement timeout.
func (e *Engine) extractWithRetry(ctx context.Context, transcript string, fields []form.FieldSpec, snapshot map[string]form.FieldValue) ([]form.Candidate, error) {
	var err error
	for attempt := range 2 {
		actx, cancel := context.WithTimeout(ctx, e.enhanceTimeout)
		start := time.Now()
		var cands []form.Candidate
		cands, err = e.enhancer.Extract(actx, transcript, fields, snapshot)
		cancel()
		e.metrics.RecordProviderCall(ctx, e.metrics.LLMDuration, "llm", "extract", time.Since(start), err,
			attribute.String("stage", "extract"))
		if err == nil {
			return cands, nil
		}
		observe.Logger(ctx).Debug("engine: enhancer attempt failed", "attempt", attempt+1, "err", err)
	}
	return nil, err
}

// sanitize drops candidates for unknown fields or without a value, caps
// their confidence and tags them as model output.
func (e *Engine) sanitize(cands []form.Candidate, fields []form.FieldSpec) []form.Candidate {
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.ID] = true
	}
	out := make([]form.Candidate, 0, len(cands))
	for _, c := range cands {
		if !known[c.FieldID] || c.Value.IsZero() {
			continue
		}
		c.Confidence = min(form.ClampConfidence(c.Confidence), e.maxLLMConfidence)
		c.Source = form.SourceLLM
		out = append(out, c)
	}
	return out
}
