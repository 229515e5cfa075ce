package hoptrace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ErrDisabled is returned when span export is disabled.
var ErrDisabled = errors.New("hoptrace: telemetry is disabled")

// ErrLogsDisabled is returned when log export is disabled.
var ErrLogsDisabled = errors.New("hoptrace: logs export is disabled")

// ErrMetricsDisabled is returned when metrics export is disabled.
var ErrMetricsDisabled = errors.New("hoptrace: metrics export is disabled")

// ErrServiceNameRequired is returned when ServiceName is empty but telemetry is enabled.
var ErrServiceNameRequired = errors.New("hoptrace: service name is required")

// ============================================================================
// Tracer
// ============================================================================

// NewTracerFromConfig builds a Tracer that samples per cfg.Traces.Sampling
// and exports through a BatchProcessor to the configured span exporter.
// opts are applied after the config-derived ones; a WithProcessor option
// replaces the batch processor entirely.
// Returns ErrDisabled if telemetry or traces are disabled.
func NewTracerFromConfig(ctx context.Context, cfg *Config, opts ...TracerOption) (*Tracer, error) {
	if !cfg.IsEnabled() || !cfg.Traces.IsEnabled() {
		return nil, ErrDisabled
	}

	opts = append([]TracerOption{WithSampler(buildSampler(cfg.GetSamplingConfig()))}, opts...)
	t := NewTracer(cfg.ServiceName, opts...)
	if t.processor != nil {
		return t, nil
	}

	exporter, err := NewSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build span exporter: %w", err)
	}

	b := cfg.GetBatchConfig()
	t.processor = NewBatchProcessor(exporter,
		WithMaxQueueSize(b.QueueSize),
		WithMaxExportBatchSize(b.BatchSize),
		WithBatchTimeout(normalizeDuration(b.ScheduleDelay)),
		WithExportTimeout(normalizeDuration(b.ExportTimeout)),
		WithBatchDiagnostics(t.diag),
	)

	return t, nil
}

// ============================================================================
// Logger Provider
// ============================================================================

// NewLoggerProvider builds the OTel LoggerProvider that Diagnostics uses to
// emit failures as log records (see WithLoggerProvider).
// Returns ErrLogsDisabled if log export is not enabled in config.
func NewLoggerProvider(ctx context.Context, cfg *Config) (*sdklog.LoggerProvider, error) {
	if !cfg.IsEnabled() {
		return nil, ErrDisabled
	}
	if !cfg.Logs.IsEnabled() {
		return nil, ErrLogsDisabled
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := buildLogExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build log exporter: %w", err)
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	), nil
}

// ============================================================================
// Meter Provider
// ============================================================================

// NewMeterProvider builds the OTel MeterProvider for the hoptrace.* counters
// (see WithMeterProvider).
// Returns ErrMetricsDisabled if metrics export is not enabled in config.
func NewMeterProvider(ctx context.Context, cfg *Config) (*sdkmetric.MeterProvider, error) {
	if !cfg.IsEnabled() {
		return nil, ErrDisabled
	}
	if !cfg.Metrics.IsEnabled() {
		return nil, ErrMetricsDisabled
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := buildMetricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build metric exporter: %w", err)
	}

	interval := normalizeMetricInterval(cfg.Metrics.Interval, 60*time.Second)

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
	), nil
}

// ============================================================================
// Shared Helpers
// ============================================================================

// buildResource creates the resource attached to every exported signal.
func buildResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	if cfg == nil || cfg.ServiceName == "" {
		return nil, ErrServiceNameRequired
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
		semconv.DeploymentEnvironment(cfg.Environment),
	}
	for key, value := range cfg.ResourceAttributes {
		if key == "" {
			continue
		}
		attrs = append(attrs, attribute.String(key, value))
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return res, nil
}

// normalizeMetricInterval treats sub-millisecond values as milliseconds per OTel spec for numeric env vars.
func normalizeMetricInterval(value time.Duration, defaultValue time.Duration) time.Duration {
	if value <= 0 {
		return defaultValue
	}
	if value < time.Millisecond {
		return normalizeDuration(value)
	}

	return value
}

// buildSampler maps an OTEL_TRACES_SAMPLER name to an SDK sampler.
// Unknown names fall back to parentbased_always_on, the OTel default.
func buildSampler(cfg *SamplingConfig) sdktrace.Sampler {
	if cfg == nil {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	switch cfg.Sampler {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.SamplerArg)
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerArg))
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}
