package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// apiUnderTest wraps a small session mux in the middleware.
func apiUnderTest(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := useTestTracer(t)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation-ID", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/speech", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return Middleware(m)(mux), reader, exp
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "continues w3c trace",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := apiUnderTest(t)
			req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Correlation-ID")
			if len(got) != 32 {
				t.Fatalf("X-Correlation-ID = %q, want a 32-char trace id", got)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("X-Correlation-ID = %q, want %q", got, tt.want)
			}
			if seen := rec.Header().Get("X-Seen-Correlation-ID"); seen != got {
				t.Errorf("handler saw %q, response carries %q", seen, got)
			}
			if !strings.Contains(rec.Header().Get("traceparent"), got) {
				t.Errorf("traceparent = %q, want it to carry %s", rec.Header().Get("traceparent"), got)
			}
		})
	}
}

func TestMiddleware_RoutesAndSessions(t *testing.T) {
	h, reader, exp := apiUnderTest(t)
	logs := captureLogs(t)

	for _, id := range []string{"a1", "b2"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/speech", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "audentra.http.request.duration")
	if met == nil {
		t.Fatal("audentra.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want a histogram", met.Data)
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		if route.AsString() == "POST /v1/speech" && status.AsInt64() != http.StatusServiceUnavailable {
			t.Errorf("speech status = %d", status.AsInt64())
		}
		counts[route.AsString()] += dp.Count
	}
	want := map[string]uint64{"GET /v1/sessions/{id}": 2, "POST /v1/speech": 1, "unmatched": 1}
	for route, n := range want {
		if counts[route] != n {
			t.Errorf("count[%s] = %d, want %d (all: %v)", route, counts[route], n, counts)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != 4 {
		t.Fatalf("spans = %d, want 4", len(spans))
	}
	if spans[0].Name != "HTTP GET /v1/sessions/{id}" || spans[3].Name != "HTTP GET /nowhere" {
		t.Errorf("span names = %q, %q", spans[0].Name, spans[3].Name)
	}
	var sessionAttr string
	for _, kv := range spans[1].Attributes {
		if kv.Key == "session.id" {
			sessionAttr = kv.Value.AsString()
		}
	}
	if sessionAttr != "b2" {
		t.Errorf("session.id = %q, want b2", sessionAttr)
	}

	out := logs.String()
	if !strings.Contains(out, "session_id=a1") || !strings.Contains(out, "level=WARN") {
		t.Errorf("request logs missing session id or 5xx warning:\n%s", out)
	}
}
