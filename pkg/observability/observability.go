package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/getdoover/doover-go"

// Metric names.
const (
	MetricOperations       = "doover.operations.total"
	MetricOperationErrors  = "doover.operations.errors"
	MetricOperationSeconds = "doover.operations.duration"
	MetricOperationsActive = "doover.operations.active"
)

// Config selects where telemetry goes. Nothing is exported unless Enabled.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string  // gRPC collector, host:port
	SampleRate     float64 // fraction of traces kept, 0 to 1
	Enabled        bool
	Insecure       bool // plaintext gRPC
}

// DefaultConfig points at a local collector with telemetry off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "doover",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		Insecure:       true,
	}
}

// Provider traces and counts SDK operations: REST calls, channel fetches
// and publishes, UI pushes and pulls, processor runs. A nil or disabled
// Provider records nothing.
type Provider struct {
	tracer trace.Tracer
	ops    instruments
	logger *slog.Logger

	shutdown []func(context.Context) error
}

type instruments struct {
	total    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

// New builds a provider exporting over OTLP gRPC and installs it as the
// global otel provider. A disabled config returns a provider that records
// nothing.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := slog.Default().With("component", "observability")
	if !cfg.Enabled {
		logger.DebugContext(ctx, "telemetry disabled")
		return &Provider{logger: logger}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	p, err := NewWithProviders(cfg, tp, mp)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "telemetry enabled",
		"service", cfg.ServiceName,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

// NewWithProviders records through SDK providers the caller built.
// Shutdown flushes and closes them.
func NewWithProviders(cfg *Config, tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{
		tracer:   tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		logger:   slog.Default().With("component", "observability"),
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}
	meter := mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	var err error
	if p.ops.total, err = meter.Int64Counter(MetricOperations,
		metric.WithDescription("Operations started"), metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("%s: %w", MetricOperations, err)
	}
	if p.ops.errors, err = meter.Int64Counter(MetricOperationErrors,
		metric.WithDescription("Operations that failed"), metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("%s: %w", MetricOperationErrors, err)
	}
	if p.ops.duration, err = meter.Float64Histogram(MetricOperationSeconds,
		metric.WithDescription("Operation latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)); err != nil {
		return nil, fmt.Errorf("%s: %w", MetricOperationSeconds, err)
	}
	if p.ops.active, err = meter.Int64UpDownCounter(MetricOperationsActive,
		metric.WithDescription("Operations in flight"), metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("%s: %w", MetricOperationsActive, err)
	}
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Enabled reports whether the provider records anything.
func (p *Provider) Enabled() bool { return p != nil && p.tracer != nil }

// Shutdown flushes pending telemetry. Errors are logged and joined.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			p.logger.ErrorContext(ctx, "telemetry shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

// TrackOperation opens a span for name and counts the operation. Call the
// returned function with the operation's error when it completes.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !p.Enabled() {
		return ctx, func(error) {}
	}
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	// Metrics carry the operation name and the span's attributes.
	labels := append([]attribute.KeyValue{AttrOperation.String(name)}, attrs...)
	set := metric.WithAttributes(labels...)
	p.ops.total.Add(ctx, 1, set)
	p.ops.active.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.ops.active.Add(ctx, -1, set)
		p.ops.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			errLabels := append(labels[:len(labels):len(labels)], AttrErrorType.String(fmt.Sprintf("%T", err)))
			p.ops.errors.Add(ctx, 1, metric.WithAttributes(errLabels...))
		}
		span.End()
	}
}
