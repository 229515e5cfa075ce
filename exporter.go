package hoptrace

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// ============================================================================
// OTel span exporter bridge
// ============================================================================

// otelExporter hands FinishedSpans to an OpenTelemetry SDK span exporter.
type otelExporter struct {
	exporter sdktrace.SpanExporter
	res      *resource.Resource
}

// NewOTelExporter wraps an OpenTelemetry span exporter (OTLP, stdout, the
// tracetest in-memory exporter, ...) as an Exporter. res is attached to every
// exported span; nil means resource.Empty().
func NewOTelExporter(exporter sdktrace.SpanExporter, res *resource.Resource) Exporter {
	if res == nil {
		res = resource.Empty()
	}

	return &otelExporter{exporter: exporter, res: res}
}

func (e *otelExporter) Export(ctx context.Context, spans []FinishedSpan) error {
	if len(spans) == 0 {
		return nil
	}

	ro := make([]sdktrace.ReadOnlySpan, len(spans))
	for i := range spans {
		ro[i] = readOnlySpan(spans[i], e.res)
	}

	return e.exporter.ExportSpans(ctx, ro)
}

func (e *otelExporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

// readOnlySpan converts fs into the SDK's read-only span representation.
func readOnlySpan(fs FinishedSpan, res *resource.Resource) sdktrace.ReadOnlySpan {
	sc := fs.Context

	var parent trace.SpanContext
	if sc.parentID.IsValid() {
		parent = trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    sc.traceID,
			SpanID:     sc.parentID,
			TraceFlags: sc.flags,
			Remote:     sc.parentRemote,
		})
	}

	events := make([]sdktrace.Event, len(fs.Events))
	for i, ev := range fs.Events {
		events[i] = sdktrace.Event{Name: ev.Name, Time: ev.Time, Attributes: ev.Attributes}
	}

	return tracetest.SpanStub{
		Name:                 fs.Name,
		SpanContext:          sc.otel(),
		Parent:               parent,
		SpanKind:             fs.Kind,
		StartTime:            fs.StartTime,
		EndTime:              fs.EndTime,
		Attributes:           fs.Attributes,
		Events:               events,
		Status:               sdktrace.Status{Code: fs.Status.Code, Description: fs.Status.Description},
		Resource:             res,
		InstrumentationScope: instrumentation.Scope{Name: fs.Scope},
	}.Snapshot()
}

// NewSpanExporter builds the span exporter selected by cfg (otlp over gRPC
// or HTTP, console, none) with the configured resource attached.
func NewSpanExporter(ctx context.Context, cfg *Config) (Exporter, error) {
	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	exp, err := buildTraceExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return NewOTelExporter(exp, res), nil
}

// ============================================================================
// Exporter builders
// ============================================================================

// exporterParams holds the settings shared by every signal's exporter.
type exporterParams struct {
	Kind        string            // "otlp", "console", "none"
	Protocol    string            // "grpc", "http/protobuf"
	Endpoint    string            // host:port or URL
	Headers     map[string]string // custom headers
	Timeout     time.Duration     // request timeout
	Compression string            // "gzip", "none"
	Insecure    bool              // disable TLS
}

func (p exporterParams) useHTTP() bool {
	return p.Protocol == "http/protobuf" || p.Protocol == "http"
}

func sharedExporterParams(cfg *Config) exporterParams {
	params := exporterParams{
		Kind:     "otlp",
		Protocol: "grpc",
		Endpoint: "localhost:4317",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
	if cfg == nil || cfg.OTLP == nil {
		return params
	}

	otlp := cfg.OTLP
	if otlp.Endpoint != "" {
		params.Endpoint = otlp.Endpoint
	}
	if otlp.Protocol != "" {
		params.Protocol = otlp.Protocol
	}
	if otlp.Timeout > 0 {
		params.Timeout = normalizeDuration(otlp.Timeout)
	}
	params.Headers = otlp.Headers
	params.Compression = otlp.Compression
	params.Insecure = otlp.IsInsecure()

	return params
}

// signalExporterParams applies a signal's exporter kind and endpoint override.
func signalExporterParams(cfg *Config, kind, endpoint string) exporterParams {
	params := sharedExporterParams(cfg)
	if kind != "" {
		params.Kind = kind
	}
	if endpoint != "" {
		params.Endpoint = endpoint
	}
	params.Kind = normalizeExporterKind(params.Kind)

	return params
}

// nopSpanExporter discards spans.
type nopSpanExporter struct{}

func (nopSpanExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (nopSpanExporter) Shutdown(context.Context) error                             { return nil }

func buildTraceExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	var kind, endpoint string
	if cfg != nil && cfg.Traces != nil {
		kind, endpoint = cfg.Traces.Exporter, cfg.Traces.Endpoint
	}
	params := signalExporterParams(cfg, kind, endpoint)

	switch params.Kind {
	case "console":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none", "nop":
		return nopSpanExporter{}, nil
	}

	if params.useHTTP() {
		opts := buildHTTPOptions(
			params,
			otlptracehttp.WithEndpoint,
			otlptracehttp.WithEndpointURL,
			otlptracehttp.WithHeaders,
			otlptracehttp.WithTimeout,
			otlptracehttp.WithInsecure,
			func() otlptracehttp.Option { return otlptracehttp.WithCompression(otlptracehttp.GzipCompression) },
		)

		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	}

	opts := buildGRPCOptions(
		params,
		otlptracegrpc.WithEndpoint,
		otlptracegrpc.WithHeaders,
		otlptracegrpc.WithTimeout,
		otlptracegrpc.WithInsecure,
		func() otlptracegrpc.Option { return otlptracegrpc.WithCompressor("gzip") },
	)

	return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
}

// nopLogExporter discards log records.
type nopLogExporter struct{}

func (nopLogExporter) Export(context.Context, []sdklog.Record) error { return nil }
func (nopLogExporter) Shutdown(context.Context) error                { return nil }
func (nopLogExporter) ForceFlush(context.Context) error              { return nil }

func buildLogExporter(ctx context.Context, cfg *Config) (sdklog.Exporter, error) {
	var kind, endpoint string
	if cfg != nil && cfg.Logs != nil {
		kind, endpoint = cfg.Logs.Exporter, cfg.Logs.Endpoint
	}
	params := signalExporterParams(cfg, kind, endpoint)

	switch params.Kind {
	case "console":
		return stdoutlog.New(stdoutlog.WithPrettyPrint())
	case "none", "nop":
		return nopLogExporter{}, nil
	}

	if params.useHTTP() {
		return otlploghttp.New(ctx, buildHTTPOptions(
			params,
			otlploghttp.WithEndpoint,
			otlploghttp.WithEndpointURL,
			otlploghttp.WithHeaders,
			otlploghttp.WithTimeout,
			otlploghttp.WithInsecure,
			func() otlploghttp.Option { return otlploghttp.WithCompression(otlploghttp.GzipCompression) },
		)...)
	}

	return otlploggrpc.New(ctx, buildGRPCOptions(
		params,
		otlploggrpc.WithEndpoint,
		otlploggrpc.WithHeaders,
		otlploggrpc.WithTimeout,
		otlploggrpc.WithInsecure,
		func() otlploggrpc.Option { return otlploggrpc.WithCompressor("gzip") },
	)...)
}

func buildMetricExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	var kind, endpoint string
	if cfg != nil && cfg.Metrics != nil {
		kind, endpoint = cfg.Metrics.Exporter, cfg.Metrics.Endpoint
	}
	params := signalExporterParams(cfg, kind, endpoint)

	switch params.Kind {
	case "console":
		return stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	case "none", "nop":
		return nopMetricExporter{}, nil
	}

	if params.useHTTP() {
		return otlpmetrichttp.New(ctx, buildHTTPOptions(
			params,
			otlpmetrichttp.WithEndpoint,
			otlpmetrichttp.WithEndpointURL,
			otlpmetrichttp.WithHeaders,
			otlpmetrichttp.WithTimeout,
			otlpmetrichttp.WithInsecure,
			func() otlpmetrichttp.Option { return otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression) },
		)...)
	}

	return otlpmetricgrpc.New(ctx, buildGRPCOptions(
		params,
		otlpmetricgrpc.WithEndpoint,
		otlpmetricgrpc.WithHeaders,
		otlpmetricgrpc.WithTimeout,
		otlpmetricgrpc.WithInsecure,
		func() otlpmetricgrpc.Option { return otlpmetricgrpc.WithCompressor("gzip") },
	)...)
}

// nopMetricExporter discards metrics.
type nopMetricExporter struct{}

func (nopMetricExporter) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }
func (nopMetricExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (nopMetricExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}
func (nopMetricExporter) ForceFlush(context.Context) error { return nil }
func (nopMetricExporter) Shutdown(context.Context) error   { return nil }

func normalizeExporterKind(value string) string {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "":
		return "otlp"
	case "stdout":
		return "console"
	case "noop":
		return "nop"
	default:
		return v
	}
}

// normalizeDuration treats sub-millisecond values as milliseconds, the unit
// OTel uses for numeric duration env vars.
func normalizeDuration(value time.Duration) time.Duration {
	if value > 0 && value < time.Millisecond {
		//nolint:durationcheck // numeric env values are milliseconds
		return value * time.Millisecond
	}

	return value
}

func isHTTPScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

func buildHTTPOptions[T any](
	params exporterParams,
	withEndpoint func(string) T,
	withEndpointURL func(string) T,
	withHeaders func(map[string]string) T,
	withTimeout func(time.Duration) T,
	withInsecure func() T,
	withCompression func() T,
) []T {
	var opts []T
	if parsed, err := url.Parse(params.Endpoint); err == nil && isHTTPScheme(parsed.Scheme) {
		opts = append(opts, withEndpointURL(params.Endpoint))
	} else {
		opts = append(opts, withEndpoint(params.Endpoint))
	}

	return appendCommonOptions(opts, params, withHeaders, withTimeout, withInsecure, withCompression)
}

func buildGRPCOptions[T any](
	params exporterParams,
	withEndpoint func(string) T,
	withHeaders func(map[string]string) T,
	withTimeout func(time.Duration) T,
	withInsecure func() T,
	withCompression func() T,
) []T {
	opts := []T{withEndpoint(params.Endpoint)}

	return appendCommonOptions(opts, params, withHeaders, withTimeout, withInsecure, withCompression)
}

func appendCommonOptions[T any](
	opts []T,
	params exporterParams,
	withHeaders func(map[string]string) T,
	withTimeout func(time.Duration) T,
	withInsecure func() T,
	withCompression func() T,
) []T {
	if len(params.Headers) > 0 {
		opts = append(opts, withHeaders(params.Headers))
	}
	if params.Timeout > 0 {
		opts = append(opts, withTimeout(params.Timeout))
	}
	if params.Insecure {
		opts = append(opts, withInsecure())
	}
	if params.Compression == "gzip" {
		opts = append(opts, withCompression())
	}

	return opts
}
