package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value,
// or -1 when there is none.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

// histCount returns the total sample count across all data points.
func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"audentra.turn.duration", m.TurnDuration},
		{"audentra.asr.duration", m.ASRDuration},
		{"audentra.llm.duration", m.LLMDuration},
		{"audentra.tts.duration", m.TTSDuration},
		{"audentra.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			if got := histCount(t, rm, tc.name); got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, m.ASRDuration, "whisper", "asr", 120*time.Millisecond, nil)
	m.RecordProviderCall(ctx, m.ASRDuration, "whisper", "asr", 80*time.Millisecond, nil)
	m.RecordProviderCall(ctx, m.LLMDuration, "openai", "llm", time.Second, errors.New("down"), Attr("stage", "extract"))

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "audentra.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "audentra.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "audentra.provider.errors", "provider", "openai"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
	if got := histCount(t, rm, "audentra.asr.duration"); got != 2 {
		t.Errorf("asr samples = %d, want 2", got)
	}
}

func TestDialogCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "ask_required", "accepted", 3*time.Millisecond)
	m.RecordTurn(ctx, "ask_required", "empty", time.Millisecond)
	m.RecordTurn(ctx, "complete", "accepted", 2*time.Millisecond)
	m.RecordCandidate(ctx, "email", "rule")
	m.RecordCandidate(ctx, "email", "rule")
	m.RecordCandidate(ctx, "text", "llm")
	m.RecordEnhancement(ctx, "stale")
	m.RecordBreakerTransition(ctx, "whisper", "open")
	m.Contradictions.Add(ctx, 1)
	m.SessionsExpired.Add(ctx, 3)
	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"audentra.turns", "outcome", "empty", 1},
		{"audentra.turns", "action", "complete", 1},
		{"audentra.candidates", "source", "llm", 1},
		{"audentra.enhancements", "outcome", "stale", 1},
		{"audentra.breaker.transitions", "to", "open", 1},
	}
	for _, tt := range tests {
		if got := sumWhere(t, rm, tt.name, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.name, tt.key, tt.value, got, tt.want)
		}
	}

	met := findMetric(rm, "audentra.candidates")
	for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
		if v, _ := dp.Attributes.Value("field_type"); v.AsString() == "email" && dp.Value != 2 {
			t.Errorf("email candidates = %d, want 2", dp.Value)
		}
	}
	if got := histCount(t, rm, "audentra.turn.duration"); got != 3 {
		t.Errorf("turn samples = %d, want 3", got)
	}

	scalar := []struct {
		name string
		want int64
	}{
		{"audentra.contradictions", 1},
		{"audentra.sessions.expired", 3},
		{"audentra.active_sessions", 1},
	}
	for _, tc := range scalar {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Fatalf("metric %q not found", tc.name)
		}
		sum := met.Data.(metricdata.Sum[int64])
		if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != tc.want {
			t.Errorf("%s = %+v, want %d", tc.name, sum.DataPoints, tc.want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
