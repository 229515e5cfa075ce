package http

import (
	"net/http"

	"github.com/arloliu/hoptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// transport starts a client span per request and injects its context.
type transport struct {
	base   http.RoundTripper
	tracer *hoptrace.Tracer
	prop   *hoptrace.Propagator
	opts   options
}

// Transport wraps base so each request runs under a client span whose
// context is injected into the outgoing traceparent and baggage headers.
// The caller's request is never modified. Responses with a status of 400 or
// more set the span status to Error.
//
// If base is nil, http.DefaultTransport is used. If prop is nil, a
// propagator writing both traceparent and baggage is used.
//
// Panics if tracer is nil.
//
// Usage:
//
//	client := &http.Client{
//	    Transport: hoptracehttp.Transport(nil, tracer, prop),
//	}
func Transport(base http.RoundTripper, tracer *hoptrace.Tracer, prop *hoptrace.Propagator, opts ...Option) http.RoundTripper {
	if tracer == nil {
		panic("hoptrace/http: Tracer must not be nil")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if prop == nil {
		prop = hoptrace.NewPropagator(hoptrace.WithPropagatorDiagnostics(tracer.Diagnostics()))
	}

	t := &transport{base: base, tracer: tracer, prop: prop, opts: applyOptions(opts)}

	return otelhttp.NewTransport(t, t.opts.metricsOptions()...)
}

// RoundTrip implements http.RoundTripper.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.opts.traced(req) {
		return t.base.RoundTrip(req)
	}

	ctx, span := t.tracer.StartClient(req.Context(), clientSpanName(&t.opts, req),
		hoptrace.WithAttributes(clientAttributes(req)...))
	defer span.End()

	req = req.Clone(ctx)
	t.prop.InjectContext(ctx, hoptrace.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	return resp, nil
}

func clientSpanName(o *options, req *http.Request) string {
	if o.spanName != nil {
		return o.spanName("", req)
	}

	return req.Method
}

func clientAttributes(req *http.Request) []attribute.KeyValue {
	u := *req.URL
	u.User = nil

	return []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(req.Method),
		semconv.URLFullKey.String(u.String()),
		semconv.ServerAddressKey.String(req.URL.Hostname()),
	}
}
