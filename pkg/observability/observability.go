// Package observability provides OpenTelemetry tracing and metrics for the
// orchestrator: a span per workorder and step, plus counters for executed
// workorders, failed steps, and credits moved through the ledger.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
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

const instrumentationName = "platform.orchestrator"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g., "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // how long to batch spans before export
	Enabled        bool
	Insecure       bool // dev only
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "orchestrator",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

// Provider manages the trace and metric providers. A disabled Provider is
// fully usable; every recording method becomes a no-op.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	workordersExecuted metric.Int64Counter
	stepsFailed        metric.Int64Counter
	creditsSpent       metric.Int64Counter
	creditsRefunded    metric.Int64Counter
	stepDuration       metric.Float64Histogram
}

// New creates an observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.workordersExecuted, err = p.meter.Int64Counter("orchestrator.workorders.executed",
		metric.WithDescription("Workorders driven to a terminal status"),
		metric.WithUnit("{workorder}"),
	)
	if err != nil {
		return err
	}
	p.stepsFailed, err = p.meter.Int64Counter("orchestrator.steps.failed",
		metric.WithDescription("Step runs that ended FAILED"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return err
	}
	p.creditsSpent, err = p.meter.Int64Counter("orchestrator.credits.spent",
		metric.WithDescription("Credits reserved through SPEND transactions"),
		metric.WithUnit("{credit}"),
	)
	if err != nil {
		return err
	}
	p.creditsRefunded, err = p.meter.Int64Counter("orchestrator.credits.refunded",
		metric.WithDescription("Credits returned through REFUND transactions"),
		metric.WithUnit("{credit}"),
	)
	if err != nil {
		return err
	}
	p.stepDuration, err = p.meter.Float64Histogram("orchestrator.step.duration",
		metric.WithDescription("Step invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 60, 120, 300, 600),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
	}
	return p.tracer.Start(ctx, name, opts...)
}

// RecordWorkOrder counts a workorder reaching a terminal status.
func (p *Provider) RecordWorkOrder(ctx context.Context, tenantID, status string) {
	if p.workordersExecuted != nil {
		p.workordersExecuted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("status", status),
		))
	}
}

// RecordStepFailure counts a failed step run.
func (p *Provider) RecordStepFailure(ctx context.Context, moduleID, reasonSlug string) {
	if p.stepsFailed != nil {
		p.stepsFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("module_id", moduleID),
			attribute.String("reason", reasonSlug),
		))
	}
}

// RecordSpend counts credits reserved.
func (p *Provider) RecordSpend(ctx context.Context, tenantID string, credits int64) {
	if p.creditsSpent != nil {
		p.creditsSpent.Add(ctx, credits, metric.WithAttributes(
			attribute.String("tenant_id", tenantID)))
	}
}

// RecordRefund counts credits returned.
func (p *Provider) RecordRefund(ctx context.Context, tenantID string, credits int64) {
	if p.creditsRefunded != nil {
		p.creditsRefunded.Add(ctx, credits, metric.WithAttributes(
			attribute.String("tenant_id", tenantID)))
	}
}

// RecordStepDuration records one step's wall time.
func (p *Provider) RecordStepDuration(ctx context.Context, moduleID string, d time.Duration) {
	if p.stepDuration != nil {
		p.stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("module_id", moduleID)))
	}
}
