package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "audentra".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// Registerer receives the Prometheus collector. Default:
	// [prometheus.DefaultRegisterer], which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of new traces that are sampled. Remote
	// parents keep their own decision. Zero samples everything.
	SampleRatio float64
}

// Providers holds SDK providers built by [NewProviders].
type Providers struct {
	Meter  *sdkmetric.MeterProvider
	Tracer *sdktrace.TracerProvider
}

// Shutdown flushes and closes both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Meter.Shutdown(ctx), p.Tracer.Shutdown(ctx))
}

// NewProviders builds a meter provider that exports through Prometheus and
// a tracer provider with the configured exporter and sampler. Nothing is
// registered globally.
func NewProviders(cfg ProviderConfig) (*Providers, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "audentra"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("observe: sample ratio %.2f is out of range [0, 1]", cfg.SampleRatio)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	promExp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}

	return &Providers{
		Meter:  mp,
		Tracer: sdktrace.NewTracerProvider(tpOpts...),
	}, nil
}

// InitProvider builds the SDK providers with [NewProviders] and registers
// them, together with the W3C trace-context propagator, as the global OTel
// providers. [DefaultMetrics] resolves against the registered meter
// provider, so call InitProvider before it is first used.
//
// Returns a shutdown function that flushes and closes exporters. Call it in a
// defer from main().
func InitProvider(_ context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	p, err := NewProviders(cfg)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(p.Meter)
	otel.SetTracerProvider(p.Tracer)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return p.Shutdown, nil
}
