// Package engine runs the form-filling dialog for many concurrent sessions.
//
// An [Engine] owns the deterministic turn pipeline (normalize, extract,
// merge, decide, compose) and the optional collaborators around it: a speech
// recognizer for audio turns, a synthesizer for spoken replies and an
// [LLMEnhancer] that proposes additional values in the background. Sessions
// live in a [store.Store]; the engine keeps no session state of its own
// beyond the per-session locks that serialise turns.
//
// Provider failures never fail a turn. A failed or unsure recognizer yields a
// request to repeat, a failed paraphrase keeps the template text and a failed
// enhancement is dropped. Only caller mistakes ([form.ErrEmptyUtterance],
// [form.ErrUnknownField], [form.ErrSessionNotFound] and friends) come back as
// errors.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/DanielWill-1/audentra/internal/compose"
	"github.com/DanielWill-1/audentra/internal/extract"
	"github.com/DanielWill-1/audentra/internal/normalize"
	"github.com/DanielWill-1/audentra/internal/observe"
	"github.com/DanielWill-1/audentra/internal/policy"
	"github.com/DanielWill-1/audentra/internal/state"
	"github.com/DanielWill-1/audentra/internal/store"
	"github.com/DanielWill-1/audentra/pkg/form"
	"github.com/DanielWill-1/audentra/pkg/provider/asr"
	"github.com/DanielWill-1/audentra/pkg/provider/tts"
)

const (
	defaultEnhanceTimeout = 5 * time.Second
	defaultMaxLLMConfid   = 0.7
)

// DegradedASR marks a turn whose audio could not be used.
const DegradedASR = "asr"

// Result is the outcome of one turn.
type Result struct {
	// Session is the session after the turn. For a turn that was not
	// recorded it is the unchanged session.
	Session form.Session `json:"session"`

	// Response is what to say next.
	Response compose.Response `json:"response"`

	// Transcript is the recognised text of an audio turn.
	Transcript string `json:"transcript,omitempty"`

	// Degraded names the stages that failed and were bypassed.
	Degraded []string `json:"degraded,omitempty"`
}

// Tuning holds the dialog settings that may change while the engine runs.
type Tuning struct {
	AcceptThreshold   float64
	MaxClarifications int
	MaxRequired       int
	MaxOptional       int

	// MinASRConfidence is the lowest transcript confidence accepted as a turn.
	MinASRConfidence float64

	// CorrectionCues replaces the default self-correction phrases when set.
	CorrectionCues []string

	// IdleTimeout is the inactivity after which [Engine.Sweep] abandons a
	// session. Zero or negative disables expiry.
	IdleTimeout time.Duration
}

// DefaultTuning returns the built-in dialog settings.
func DefaultTuning() Tuning {
	return Tuning{
		AcceptThreshold:   state.DefaultAcceptThreshold,
		MaxClarifications: policy.DefaultMaxClarifications,
		MaxRequired:       policy.DefaultMaxRequired,
		MaxOptional:       policy.DefaultMaxOptional,
		MinASRConfidence:  0.4,
		IdleTimeout:       30 * time.Minute,
	}
}

// pipeline is the immutable set of components built from one Tuning.
type pipeline struct {
	tuning Tuning
	state  *state.Manager
	policy *policy.Policy
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithASR sets the speech recognizer. Default: [asr.Text].
func WithASR(p asr.Provider) Option {
	return func(e *Engine) { e.asr = p }
}

// WithTTS sets the speech synthesizer. Default: [tts.Text].
func WithTTS(p tts.Provider) Option {
	return func(e *Engine) { e.tts = p }
}

// WithVoice sets the voice used when a synthesis request names none.
func WithVoice(v tts.VoiceConfig) Option {
	return func(e *Engine) { e.voice = v }
}

// WithEnhancer enables background extraction by enh. Each attempt is bounded
// by timeout; zero keeps the default of 5s.
func WithEnhancer(enh LLMEnhancer, timeout time.Duration) Option {
	return func(e *Engine) {
		e.enhancer = enh
		if timeout > 0 {
			e.enhanceTimeout = timeout
		}
	}
}

// WithMaxEnhancerConfidence caps the confidence of enhancer candidates.
// Default: 0.7.
func WithMaxEnhancerConfidence(c float64) Option {
	return func(e *Engine) { e.maxLLMConfidence = form.ClampConfidence(c) }
}

// WithEnhancementListener registers fn to observe every enhancement that
// changed a session. fn runs on the enhancement goroutine.
func WithEnhancementListener(fn func(EnhancementEvent)) Option {
	return func(e *Engine) { e.onEnhance = fn }
}

// WithComposer replaces the response composer, for example to add a
// paraphraser.
func WithComposer(c *compose.Composer) Option {
	return func(e *Engine) { e.composer = c }
}

// WithNormalizer replaces the utterance normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(e *Engine) { e.normalizer = n }
}

// WithExtractor replaces the rule-based extractor.
func WithExtractor(x *extract.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithTuning sets the initial dialog settings. Default: [DefaultTuning].
func WithTuning(t Tuning) Option {
	return func(e *Engine) { e.initial = t }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how session ids are minted. Default: random
// UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// Engine is safe for concurrent use. Turns of one session run strictly one
// after another; turns of different sessions run in parallel.
type Engine struct {
	store      store.Store
	asr        asr.Provider
	tts        tts.Provider
	voice      tts.VoiceConfig
	normalizer *normalize.Normalizer
	extractor  *extract.Extractor
	composer   *compose.Composer
	metrics    *observe.Metrics
	now        func() time.Time
	newID      func() string

	enhancer         LLMEnhancer
	enhanceTimeout   time.Duration
	maxLLMConfidence float64
	onEnhance        func(EnhancementEvent)

	initial  Tuning
	pipeline atomic.Pointer[pipeline]
	locks    keyedMutex

	// bg tracks background enhancements.
	bg sync.WaitGroup
}

// New returns an Engine persisting sessions in st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            st,
		asr:              asr.Text{},
		tts:              tts.Text{},
		enhancer:         NopEnhancer{},
		enhanceTimeout:   defaultEnhanceTimeout,
		maxLLMConfidence: defaultMaxLLMConfid,
		now:              time.Now,
		newID:            uuid.NewString,
		initial:          DefaultTuning(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.normalizer == nil {
		e.normalizer = normalize.New()
	}
	if e.extractor == nil {
		e.extractor = extract.New()
	}
	if e.composer == nil {
		e.composer = compose.New()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.enhancer == nil {
		e.enhancer = NopEnhancer{}
	}
	e.SetTuning(e.initial)
	return e
}

// SetTuning swaps the dialog settings. Turns already in progress finish
// with the previous settings.
func (e *Engine) SetTuning(t Tuning) {
	stateOpts := []state.Option{
		state.WithAcceptThreshold(t.AcceptThreshold),
		state.WithClock(e.now),
	}
	if len(t.CorrectionCues) > 0 {
		stateOpts = append(stateOpts, state.WithCorrectionCues(t.CorrectionCues))
	}
	e.pipeline.Store(&pipeline{
		tuning: t,
		state:  state.New(stateOpts...),
		policy: policy.New(
			policy.WithAcceptThreshold(t.AcceptThreshold),
			policy.WithMaxClarifications(t.MaxClarifications),
			policy.WithMaxRequired(t.MaxRequired),
			policy.WithMaxOptional(t.MaxOptional),
		),
	})
}

// Tuning returns the current dialog settings.
func (e *Engine) Tuning() Tuning {
	return e.pipeline.Load().tuning
}

// Wait blocks until background enhancements started so far have finished.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// trackActive keeps the active-session gauge in line with a status change.
func (e *Engine) trackActive(ctx context.Context, before, after form.Status) {
	switch {
	case before.Active() && !after.Active():
		e.metrics.ActiveSessions.Add(ctx, -1)
	case !before.Active() && after.Active():
		e.metrics.ActiveSessions.Add(ctx, 1)
	}
}
