package engine_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/DanielWill-1/audentra/internal/engine"
	"github.com/DanielWill-1/audentra/internal/observe"
	"github.com/DanielWill-1/audentra/internal/store/memstore"
	"github.com/DanielWill-1/audentra/pkg/form"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	eng    *engine.Engine
	store  *memstore.Store
	clock  *fakeClock
	reader *sdkmetric.ManualReader
}

// newHarness builds an engine over a fresh memstore with a fake clock,
// sequential ids and private metrics.
func newHarness(t *testing.T, opts ...engine.Option) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{store: memstore.New(), clock: &fakeClock{now: t0}, reader: reader}
	var seq atomic.Int64
	base := []engine.Option{
		engine.WithMetrics(met),
		engine.WithClock(h.clock.Now),
		engine.WithIDGenerator(func() string { return fmt.Sprintf("s-%d", seq.Add(1)) }),
	}
	h.eng = engine.New(h.store, append(base, opts...)...)
	t.Cleanup(h.eng.Wait)
	return h
}

func (h *harness) start(t *testing.T, fields ...form.FieldSpec) form.Session {
	t.Helper()
	s, err := h.eng.StartSession(context.Background(), fields)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return s
}

func (h *harness) say(t *testing.T, id, text string) engine.Result {
	t.Helper()
	res, err := h.eng.SubmitUtterance(context.Background(), id, text)
	if err != nil {
		t.Fatalf("SubmitUtterance(%q): %v", text, err)
	}
	return res
}

// counter sums the int64 data points of name that carry key=value. An empty
// key sums every point.
func (h *harness) counter(t *testing.T, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				if key == "" {
					total += dp.Value
					continue
				}
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

var (
	nameField    = form.FieldSpec{ID: "name", Type: form.TypeText, Label: "Name", Required: true}
	emailField   = form.FieldSpec{ID: "email", Type: form.TypeEmail, Label: "Email", Required: true}
	phoneField   = form.FieldSpec{ID: "phone", Type: form.TypeText, Label: "Phone number", Required: true}
	companyField = form.FieldSpec{ID: "company", Type: form.TypeText, Label: "Company"}
)
