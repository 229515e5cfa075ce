//revive:disable:line-length-limit
package hoptrace

import (
	"slices"
	"strings"
	"time"
)

// Config configures a hoptrace deployment: span export, sampling, batching,
// propagation formats, diagnostics logging and the optional OTel log and
// metric providers.
// Environment variable names follow the OTel specification:
// https://opentelemetry.io/docs/specs/otel/configuration/sdk-environment-variables/
type Config struct {
	// Enabled controls whether spans are exported at all.
	Enabled *bool `yaml:"enabled" default:"false" env:"HOPTRACE_ENABLED"`

	// ServiceName identifies the service in exported telemetry.
	// Maps to OTEL_SERVICE_NAME.
	ServiceName string `yaml:"serviceName" env:"OTEL_SERVICE_NAME" validate:"required_if=Enabled true"`

	// Version is the service version, exported as service.version.
	Version string `yaml:"version" env:"OTEL_SERVICE_VERSION"`

	// Environment is exported as deployment.environment.
	Environment string `yaml:"environment" env:"OTEL_DEPLOYMENT_ENVIRONMENT" default:"development"`

	// ResourceAttributes contains additional resource attributes.
	// Maps to OTEL_RESOURCE_ATTRIBUTES (comma-separated key=value pairs).
	ResourceAttributes map[string]string `yaml:"resourceAttributes,omitempty" env:"OTEL_RESOURCE_ATTRIBUTES"`

	// OTLP holds exporter settings shared by traces, logs and metrics.
	OTLP *OTLPConfig `yaml:"otlp,omitempty"`

	// Traces configures span export, sampling and batching.
	Traces *TracesConfig `yaml:"traces,omitempty"`

	// Logs configures the OTel log bridge used by Diagnostics.
	Logs *LogsConfig `yaml:"logs,omitempty"`

	// Metrics configures the hoptrace.* counters' meter provider.
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`

	// Propagation selects the carrier formats. Maps to OTEL_PROPAGATORS.
	Propagation *PropConfig `yaml:"propagation,omitempty"`

	// Logging configures the process zap logger.
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// OTLPConfig contains shared OTLP exporter settings.
type OTLPConfig struct {
	// Endpoint is the OTLP collector endpoint.
	// Maps to OTEL_EXPORTER_OTLP_ENDPOINT.
	//
	// Format depends on protocol:
	//   - gRPC: "host:port" (e.g., "localhost:4317"). Do NOT include scheme.
	//   - HTTP: Full URL with scheme (e.g., "http://localhost:4318/v1/traces").
	Endpoint string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`

	// Insecure disables TLS. Maps to OTEL_EXPORTER_OTLP_INSECURE.
	Insecure *bool `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`

	// Headers adds custom headers to OTLP requests.
	// Maps to OTEL_EXPORTER_OTLP_HEADERS. May contain credentials; do not log.
	Headers map[string]string `yaml:"headers,omitempty" env:"OTEL_EXPORTER_OTLP_HEADERS"`

	// Protocol is "grpc", "http/protobuf" or "http".
	// Maps to OTEL_EXPORTER_OTLP_PROTOCOL.
	Protocol string `yaml:"protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL" default:"grpc" validate:"oneof=grpc http/protobuf http"`

	// Timeout bounds each export request. Maps to OTEL_EXPORTER_OTLP_TIMEOUT.
	Timeout time.Duration `yaml:"timeout" env:"OTEL_EXPORTER_OTLP_TIMEOUT" default:"10s" validate:"gte=0"`

	// Compression is "gzip" or "none". Maps to OTEL_EXPORTER_OTLP_COMPRESSION.
	Compression string `yaml:"compression,omitempty" env:"OTEL_EXPORTER_OTLP_COMPRESSION" validate:"omitempty,oneof=gzip none"`
}

// IsInsecure returns true if insecure connection is enabled.
func (c *OTLPConfig) IsInsecure() bool {
	return c == nil || c.Insecure == nil || *c.Insecure
}

// TracesConfig configures span export.
type TracesConfig struct {
	// Enabled controls whether spans are exported. Defaults to true.
	Enabled *bool `yaml:"enabled" default:"true"`

	// Exporter is "otlp", "console", "stdout" or "none".
	// Maps to OTEL_TRACES_EXPORTER.
	Exporter string `yaml:"exporter" env:"OTEL_TRACES_EXPORTER" default:"otlp" validate:"oneof=otlp console stdout none"`

	// Endpoint overrides OTLP.Endpoint for traces.
	// Maps to OTEL_EXPORTER_OTLP_TRACES_ENDPOINT.
	Endpoint string `yaml:"endpoint,omitempty" env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`

	// Sampling configures the sampler used for new spans.
	Sampling *SamplingConfig `yaml:"sampling,omitempty"`

	// Batch configures the batch span processor.
	Batch *BatchConfig `yaml:"batch,omitempty"`
}

// IsEnabled returns true if span export is enabled.
func (c *TracesConfig) IsEnabled() bool {
	return c == nil || c.Enabled == nil || *c.Enabled
}

// BatchConfig configures the BatchProcessor.
// Maps to the OTEL_BSP_* variables.
type BatchConfig struct {
	// QueueSize is the span queue capacity. Maps to OTEL_BSP_MAX_QUEUE_SIZE.
	QueueSize int `yaml:"queueSize" env:"OTEL_BSP_MAX_QUEUE_SIZE" default:"2048" validate:"gt=0"`

	// BatchSize is the largest export batch.
	// Maps to OTEL_BSP_MAX_EXPORT_BATCH_SIZE.
	BatchSize int `yaml:"batchSize" env:"OTEL_BSP_MAX_EXPORT_BATCH_SIZE" default:"512" validate:"gt=0"`

	// ScheduleDelay is the longest a span waits in the queue.
	// Maps to OTEL_BSP_SCHEDULE_DELAY (milliseconds if numeric).
	ScheduleDelay time.Duration `yaml:"scheduleDelay" env:"OTEL_BSP_SCHEDULE_DELAY" default:"5s" validate:"gte=0"`

	// ExportTimeout bounds each export call.
	// Maps to OTEL_BSP_EXPORT_TIMEOUT (milliseconds if numeric).
	ExportTimeout time.Duration `yaml:"exportTimeout" env:"OTEL_BSP_EXPORT_TIMEOUT" default:"30s" validate:"gte=0"`
}

// LogsConfig configures the OTel log bridge. Opt-in.
type LogsConfig struct {
	// Enabled controls whether diagnostics are exported as OTel log records.
	Enabled *bool `yaml:"enabled" default:"false"`

	// Exporter is "otlp", "console", "stdout" or "none".
	// Maps to OTEL_LOGS_EXPORTER.
	Exporter string `yaml:"exporter" env:"OTEL_LOGS_EXPORTER" default:"otlp" validate:"oneof=otlp console stdout none"`

	// Endpoint overrides OTLP.Endpoint for logs.
	// Maps to OTEL_EXPORTER_OTLP_LOGS_ENDPOINT.
	Endpoint string `yaml:"endpoint,omitempty" env:"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"`
}

// IsEnabled returns true if OTel log export is enabled.
func (c *LogsConfig) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// MetricsConfig configures metric export. Opt-in.
type MetricsConfig struct {
	// Enabled controls whether metrics are exported.
	Enabled *bool `yaml:"enabled" default:"false"`

	// Exporter is "otlp", "console", "stdout" or "none".
	// Maps to OTEL_METRICS_EXPORTER.
	Exporter string `yaml:"exporter" env:"OTEL_METRICS_EXPORTER" default:"otlp" validate:"oneof=otlp console stdout none"`

	// Endpoint overrides OTLP.Endpoint for metrics.
	// Maps to OTEL_EXPORTER_OTLP_METRICS_ENDPOINT.
	Endpoint string `yaml:"endpoint,omitempty" env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`

	// Interval is the periodic reader interval.
	// Maps to OTEL_METRIC_EXPORT_INTERVAL (milliseconds if numeric).
	Interval time.Duration `yaml:"interval,omitempty" env:"OTEL_METRIC_EXPORT_INTERVAL" default:"60s" validate:"omitempty,gt=0"`
}

// IsEnabled returns true if metrics export is enabled.
func (c *MetricsConfig) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// SamplingConfig configures the sampler.
type SamplingConfig struct {
	// Sampler is one of "always_on", "always_off", "traceidratio",
	// "parentbased_always_on", "parentbased_always_off",
	// "parentbased_traceidratio". Maps to OTEL_TRACES_SAMPLER.
	Sampler string `yaml:"sampler" env:"OTEL_TRACES_SAMPLER" default:"parentbased_always_on" validate:"oneof=always_on always_off traceidratio parentbased_always_on parentbased_always_off parentbased_traceidratio"`

	// SamplerArg is the ratio for ratio-based samplers, 0.0 to 1.0.
	// Maps to OTEL_TRACES_SAMPLER_ARG.
	SamplerArg float64 `yaml:"samplerArg" env:"OTEL_TRACES_SAMPLER_ARG" default:"1.0" validate:"gte=0,lte=1"`
}

// PropConfig selects the carrier formats.
type PropConfig struct {
	// Propagators is a comma-separated list of "tracecontext", "baggage" and
	// "none". Maps to OTEL_PROPAGATORS.
	Propagators string `yaml:"propagators" env:"OTEL_PROPAGATORS" default:"tracecontext,baggage"`
}

// HasTraceContext returns true if the traceparent format is enabled.
func (c *PropConfig) HasTraceContext() bool {
	if c == nil || c.Propagators == "" {
		return true
	}

	return slices.Contains(splitPropagators(c.Propagators), "tracecontext")
}

// HasBaggage returns true if the baggage format is enabled.
func (c *PropConfig) HasBaggage() bool {
	if c == nil || c.Propagators == "" {
		return true
	}

	return slices.Contains(splitPropagators(c.Propagators), "baggage")
}

// splitPropagators splits a comma-separated propagator list.
func splitPropagators(propagators string) []string {
	var result []string
	for p := range strings.SplitSeq(propagators, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}

	return result
}

// LoggingConfig configures the zap logger built by NewLogger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level" env:"HOPTRACE_LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Format is "json" or "console".
	Format string `yaml:"format" env:"HOPTRACE_LOG_FORMAT" default:"json" validate:"oneof=json console"`
}

// IsEnabled returns true if span export is enabled.
// Defaults to false if nil.
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// GetSamplingConfig returns the sampling config, or nil.
func (c *Config) GetSamplingConfig() *SamplingConfig {
	if c == nil || c.Traces == nil {
		return nil
	}

	return c.Traces.Sampling
}

// GetBatchConfig returns the batch config with defaults for a nil section.
func (c *Config) GetBatchConfig() *BatchConfig {
	if c != nil && c.Traces != nil && c.Traces.Batch != nil {
		return c.Traces.Batch
	}

	return &BatchConfig{
		QueueSize:     DefaultMaxQueueSize,
		BatchSize:     DefaultMaxExportBatchSize,
		ScheduleDelay: DefaultBatchTimeout,
		ExportTimeout: DefaultExportTimeout,
	}
}

// boolPtr returns a pointer to the given boolean value.
func boolPtr(v bool) *bool { return &v }
