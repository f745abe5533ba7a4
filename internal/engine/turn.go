package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DanielWill-1/audentra/internal/observe"
	"github.com/DanielWill-1/audentra/pkg/form"
	"github.com/DanielWill-1/audentra/pkg/provider/asr"
	"github.com/DanielWill-1/audentra/pkg/provider/tts"
)

// Turn outcomes reported on the turn counter.
const (
	outcomeRecorded = "recorded"
	outcomeEmpty    = "empty"
	outcomeDegraded = "degraded"
)

// SubmitUtterance runs one text turn against the session.
//
// Text that is empty after normalization is not recorded: the returned
// Result carries the unchanged session and a prompt to repeat, together with
// an error wrapping [form.ErrEmptyUtterance].
func (e *Engine) SubmitUtterance(ctx context.Context, id, text string) (_ Result, err error) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, id), "engine.SubmitUtterance")
	defer func() { observe.EndSpan(span, ignoreEmpty(err)) }()

	unlock := e.locks.Lock(id)
	defer unlock()

	s, err := e.load(ctx, id)
	if err != nil {
		return Result{Session: s}, fmt.Errorf("engine: submit utterance: %w", err)
	}
	res, err := e.turn(ctx, s, text, time.Now())
	if err != nil {
		return res, fmt.Errorf("engine: submit utterance: %w", err)
	}
	return res, nil
}

// SubmitAudio transcribes audio and runs the transcript as a turn. When the
// recognizer fails or is unsure, the turn is skipped and the Result asks the
// user to repeat, with [DegradedASR] in Result.Degraded and a nil error. A
// media type that no configured recognizer accepts returns an error wrapping
// [asr.ErrUnsupportedFormat].
func (e *Engine) SubmitAudio(ctx context.Context, id string, audio []byte, mimeType string) (_ Result, err error) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, id), "engine.SubmitAudio",
		trace.WithAttributes(attribute.String("audio.mime_type", mimeType)))
	defer func() { observe.EndSpan(span, ignoreEmpty(err)) }()

	start := time.Now()
	unlock := e.locks.Lock(id)
	defer unlock()

	s, err := e.load(ctx, id)
	if err != nil {
		return Result{Session: s}, fmt.Errorf("engine: submit audio: %w", err)
	}

	asrStart := time.Now()
	tr, err := e.asr.Transcribe(ctx, audio, mimeType)
	e.metrics.RecordProviderCall(ctx, e.metrics.ASRDuration, "asr", "transcribe", time.Since(asrStart), err)
	if errors.Is(err, asr.ErrUnsupportedFormat) {
		return Result{Session: s}, fmt.Errorf("engine: submit audio: %w", err)
	}

	p := e.pipeline.Load()
	if err != nil || tr.Confidence < p.tuning.MinASRConfidence {
		log := observe.Logger(ctx)
		if err != nil {
			log.Warn("engine: transcription failed, asking to repeat", "err", err)
		} else {
			log.Info("engine: transcript below confidence floor, asking to repeat",
				"confidence", tr.Confidence, "min", p.tuning.MinASRConfidence)
		}
		d := p.policy.Decide(s)
		e.metrics.RecordTurn(ctx, string(d.Action), outcomeDegraded, time.Since(start))
		return Result{
			Session:  s,
			Response: e.composer.Repeat(ctx, s, d),
			Degraded: []string{DegradedASR},
		}, nil
	}

	res, err := e.turn(ctx, s, tr.Text, start)
	res.Transcript = tr.Text
	if err != nil {
		return res, fmt.Errorf("engine: submit audio: %w", err)
	}
	return res, nil
}

// turn runs the deterministic pipeline for text on s and commits the
// result. The caller holds the session lock.
func (e *Engine) turn(ctx context.Context, s form.Session, text string, start time.Time) (Result, error) {
	p := e.pipeline.Load()

	n, err := e.normalizer.Normalize(text)
	if err != nil {
		d := p.policy.Decide(s)
		e.metrics.RecordTurn(ctx, string(d.Action), outcomeEmpty, time.Since(start))
		return Result{Session: s, Response: e.composer.Repeat(ctx, s, d)}, err
	}

	cands := e.extractor.Extract(n, s.Fields, s.Values)
	for _, c := range cands {
		f, _ := s.Field(c.FieldID)
		e.metrics.RecordCandidate(ctx, string(f.Type), string(c.Source))
	}

	u := form.Utterance{Text: n.Original, TurnIndex: s.NextTurn(), Timestamp: e.now()}
	next, rep := p.state.Merge(s, u, cands)
	d := p.policy.Decide(next)
	if d.Action == form.ActionConfirmOptional {
		for _, id := range d.TargetFieldIDs {
			next.Prompted[id] = true
		}
	}
	if err := e.commit(ctx, s, &next); err != nil {
		return Result{Session: s}, err
	}
	if len(rep.Contradicted) > 0 {
		e.metrics.Contradictions.Add(ctx, int64(len(rep.Contradicted)))
	}

	observe.Logger(ctx).Debug("engine: turn recorded",
		"turn", u.TurnIndex,
		"candidates", len(cands),
		"accepted", rep.Accepted,
		"contradicted", rep.Contradicted,
		"status", next.Status,
		"action", d.Action,
	)

	resp := e.composer.Compose(ctx, next, d, rep.Accepted)
	e.metrics.RecordTurn(ctx, string(d.Action), outcomeRecorded, time.Since(start))

	e.enhanceAsync(ctx, next, u)
	return Result{Session: next, Response: resp}, nil
}

// Synthesize renders text as speech. An empty voice uses the engine's
// default voice. Provider failures return an error wrapping
// [form.ErrProviderUnavailable]; blank text returns [tts.ErrEmptyText].
func (e *Engine) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (_ tts.Audio, err error) {
	ctx, span := observe.StartSpan(ctx, "engine.Synthesize")
	defer func() { observe.EndSpan(span, err) }()

	if voice == (tts.VoiceConfig{}) {
		voice = e.voice
	}
	start := time.Now()
	audio, err := e.tts.Synthesize(ctx, text, voice)
	e.metrics.RecordProviderCall(ctx, e.metrics.TTSDuration, "tts", "synthesize", time.Since(start), err)
	switch {
	case err == nil:
		return audio, nil
	case errors.Is(err, tts.ErrEmptyText):
		return tts.Audio{}, fmt.Errorf("engine: synthesize: %w", err)
	default:
		observe.Logger(ctx).Warn("engine: synthesis failed", "err", err)
		return tts.Audio{}, fmt.Errorf("engine: synthesize: %w: %w", form.ErrProviderUnavailable, err)
	}
}

// ignoreEmpty keeps empty utterances out of span errors; they are ordinary
// caller input.
func ignoreEmpty(err error) error {
	if errors.Is(err, form.ErrEmptyUtterance) {
		return nil
	}
	return err
}
