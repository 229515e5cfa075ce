package http

import (
	"fmt"
	"net/http"

	"github.com/arloliu/hoptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Handler wraps next so each request runs under a server span.
//
// The span continues the trace read from the request's traceparent and
// baggage headers, or starts a new trace keeping any baggage when nothing
// usable was sent. The handler sees the span and baggage through
// r.Context(). Responses with a 5xx status set the span status to Error.
//
// Request metrics are recorded through otelhttp. If prop is nil, a
// propagator reading both traceparent and baggage is used.
//
// Panics if next or tracer is nil.
//
// Usage:
//
//	mux.Handle("POST /send", http.Handler(sendHandler, "POST /send", tracer, prop))
func Handler(next http.Handler, operation string, tracer *hoptrace.Tracer, prop *hoptrace.Propagator, opts ...Option) http.Handler {
	if next == nil {
		panic("hoptrace/http: handler must not be nil")
	}
	if tracer == nil {
		panic("hoptrace/http: Tracer must not be nil")
	}
	if prop == nil {
		prop = hoptrace.NewPropagator(hoptrace.WithPropagatorDiagnostics(tracer.Diagnostics()))
	}
	o := applyOptions(opts)

	traced := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !o.traced(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := prop.ExtractContext(r.Context(), hoptrace.HeaderCarrier(r.Header))
		startOpts := []hoptrace.SpanStartOption{hoptrace.WithAttributes(serverAttributes(r)...)}
		if !hoptrace.SpanContextFromContext(ctx).IsRemote() {
			startOpts = append(startOpts, hoptrace.WithNewRoot())
		}

		ctx, span := tracer.StartServer(ctx, serverSpanName(&o, operation, r), startOpts...)
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				span.RecordError(fmt.Errorf("panic: %v", rec))
				span.SetStatus(codes.Error, "panic in handler")
				span.End()
				panic(rec)
			}
			span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(rw.status))
			if rw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			}
			span.End()
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))
	})

	return otelhttp.NewHandler(traced, operation, o.metricsOptions()...)
}

// Middleware returns Handler as a middleware. Spans are named after the
// request method, or the route pattern when the request was already routed;
// use WithSpanNameFormatter for anything finer.
//
// Usage:
//
//	srv := &http.Server{Handler: http.Middleware(tracer, prop)(mux)}
func Middleware(tracer *hoptrace.Tracer, prop *hoptrace.Propagator, opts ...Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return Handler(next, "", tracer, prop, opts...)
	}
}

func serverSpanName(o *options, operation string, r *http.Request) string {
	if o.spanName != nil {
		return o.spanName(operation, r)
	}
	if operation != "" {
		return operation
	}
	if r.Pattern != "" {
		return r.Pattern
	}

	return r.Method
}

func serverAttributes(r *http.Request) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.URLPathKey.String(r.URL.Path),
	}
	if r.URL.RawQuery != "" {
		attrs = append(attrs, semconv.URLQueryKey.String(r.URL.RawQuery))
	}
	if r.Pattern != "" {
		attrs = append(attrs, semconv.HTTPRouteKey.String(r.Pattern))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginalKey.String(ua))
	}

	return attrs
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
