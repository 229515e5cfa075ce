package grpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/stats"
)

// Option configures the metrics stats handlers.
type Option func(*options)

type options struct {
	meterProvider metric.MeterProvider
	otelOpts      []otelgrpc.Option
}

// WithMeterProvider sets the MeterProvider RPC metrics are recorded with.
// The global MeterProvider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithOTelOptions passes extra options to otelgrpc.
func WithOTelOptions(opts ...otelgrpc.Option) Option {
	return func(o *options) {
		o.otelOpts = append(o.otelOpts, opts...)
	}
}

// ServerHandler returns a stats.Handler recording server RPC metrics.
// Spans come from UnaryServerInterceptor and StreamServerInterceptor, so
// the handler traces nothing itself.
func ServerHandler(opts ...Option) stats.Handler {
	return otelgrpc.NewServerHandler(metricsOptions(opts)...)
}

// ClientHandler returns a stats.Handler recording client RPC metrics.
func ClientHandler(opts ...Option) stats.Handler {
	return otelgrpc.NewClientHandler(metricsOptions(opts)...)
}

func metricsOptions(opts []Option) []otelgrpc.Option {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	mp := o.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	otelOpts := []otelgrpc.Option{
		otelgrpc.WithMeterProvider(mp),
		otelgrpc.WithTracerProvider(tracenoop.NewTracerProvider()),
		otelgrpc.WithPropagators(propagation.NewCompositeTextMapPropagator()),
	}

	return append(otelOpts, o.otelOpts...)
}
