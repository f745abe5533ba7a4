// Package observe provides application-wide observability primitives for
// Audentra: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Audentra metrics.
const meterName = "github.com/DanielWill-1/audentra"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks the synchronous part of a turn, from submission to
	// composed response.
	TurnDuration metric.Float64Histogram

	// ASRDuration tracks speech recognition latency.
	ASRDuration metric.Float64Histogram

	// LLMDuration tracks LLM calls. Use with attribute:
	//   attribute.String("stage", "extract"|"paraphrase")
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts processed turns. Use with attributes:
	//   attribute.String("action", ...), attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// Candidates counts extracted candidates. Use with attributes:
	//   attribute.String("field_type", ...), attribute.String("source", ...)
	Candidates metric.Int64Counter

	// Contradictions counts newly recorded contradictions.
	Contradictions metric.Int64Counter

	// Enhancements counts asynchronous LLM extraction results. Use with
	// attribute:
	//   attribute.String("outcome", "applied"|"stale"|"empty"|"failed")
	Enhancements metric.Int64Counter

	// SessionsExpired counts sessions abandoned by the inactivity sweep.
	SessionsExpired metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks sessions that are still collecting answers.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// dialog turns and provider calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.TurnDuration, err = histogram("audentra.turn.duration",
		"Latency of a dialog turn up to the composed response."); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = histogram("audentra.asr.duration",
		"Latency of speech recognition."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("audentra.llm.duration",
		"Latency of LLM calls by stage."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("audentra.tts.duration",
		"Latency of speech synthesis."); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("audentra.turns",
		metric.WithDescription("Processed dialog turns by next action and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64Counter("audentra.candidates",
		metric.WithDescription("Extracted candidates by field type and source."),
	); err != nil {
		return nil, err
	}
	if met.Contradictions, err = m.Int64Counter("audentra.contradictions",
		metric.WithDescription("Contradictions recorded across sessions."),
	); err != nil {
		return nil, err
	}
	if met.Enhancements, err = m.Int64Counter("audentra.enhancements",
		metric.WithDescription("Asynchronous LLM extraction results by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionsExpired, err = m.Int64Counter("audentra.sessions.expired",
		metric.WithDescription("Sessions abandoned after inactivity."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("audentra.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("audentra.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("audentra.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("audentra.active_sessions",
		metric.WithDescription("Number of sessions still collecting answers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("audentra.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderCall records the request counter, the error counter on
// failure, and the latency histogram h for one provider call.
func (m *Metrics) RecordProviderCall(ctx context.Context, h metric.Float64Histogram, provider, kind string, d time.Duration, err error, attrs ...attribute.KeyValue) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// RecordTurn records one turn with its next action and outcome.
func (m *Metrics) RecordTurn(ctx context.Context, action, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	)
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCandidate records one extracted candidate.
func (m *Metrics) RecordCandidate(ctx context.Context, fieldType, source string) {
	m.Candidates.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("field_type", fieldType),
			attribute.String("source", source),
		),
	)
}

// RecordEnhancement records the outcome of one asynchronous extraction.
func (m *Metrics) RecordEnhancement(ctx context.Context, outcome string) {
	m.Enhancements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
