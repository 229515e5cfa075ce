package http

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Option configures Handler and Transport.
type Option func(*options)

type options struct {
	meterProvider metric.MeterProvider
	spanName      func(operation string, r *http.Request) string
	filter        func(r *http.Request) bool
	otelOpts      []otelhttp.Option
}

// WithMeterProvider sets the MeterProvider request metrics are recorded
// with. The global MeterProvider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithSpanNameFormatter overrides how span names are derived from a request.
func WithSpanNameFormatter(f func(operation string, r *http.Request) string) Option {
	return func(o *options) {
		o.spanName = f
	}
}

// WithFilter skips tracing for requests where f returns false.
// Metrics are still recorded for them.
func WithFilter(f func(r *http.Request) bool) Option {
	return func(o *options) {
		o.filter = f
	}
}

// WithOTelOptions passes extra options to the otelhttp metrics wrapper.
func WithOTelOptions(opts ...otelhttp.Option) Option {
	return func(o *options) {
		o.otelOpts = append(o.otelOpts, opts...)
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// metricsOptions configures otelhttp to record request metrics only. Spans
// come from the hoptrace Tracer, so otelhttp gets a noop TracerProvider and
// an empty propagator.
func (o *options) metricsOptions() []otelhttp.Option {
	mp := o.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	opts := []otelhttp.Option{
		otelhttp.WithMeterProvider(mp),
		otelhttp.WithTracerProvider(tracenoop.NewTracerProvider()),
		otelhttp.WithPropagators(propagation.NewCompositeTextMapPropagator()),
	}

	return append(opts, o.otelOpts...)
}

func (o *options) traced(r *http.Request) bool {
	return o.filter == nil || o.filter(r)
}
