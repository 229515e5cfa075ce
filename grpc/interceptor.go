package grpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/arloliu/hoptrace"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns an interceptor that runs each unary call
// under a server span continuing the trace from the incoming metadata.
// When nothing usable was sent, a new trace is started keeping any baggage.
//
// If prop is nil, a propagator reading both traceparent and baggage is used.
//
// Panics if tracer is nil.
//
// Usage:
//
//	srv := grpc.NewServer(
//	    grpc.UnaryInterceptor(hoptracegrpc.UnaryServerInterceptor(tracer, prop)),
//	    grpc.StatsHandler(hoptracegrpc.ServerHandler()),
//	)
func UnaryServerInterceptor(tracer *hoptrace.Tracer, prop *hoptrace.Propagator) grpc.UnaryServerInterceptor {
	prop = defaultPropagator(tracer, prop)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		ctx, span := startServer(ctx, tracer, prop, info.FullMethod)
		defer func() {
			if r := recover(); r != nil {
				span.RecordError(fmt.Errorf("panic: %v", r))
				span.SetStatus(otelcodes.Error, "panic in handler")
				span.End()
				panic(r)
			}
			endServer(span, err)
		}()

		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor. The span covers the whole stream.
func StreamServerInterceptor(tracer *hoptrace.Tracer, prop *hoptrace.Propagator) grpc.StreamServerInterceptor {
	prop = defaultPropagator(tracer, prop)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		ctx, span := startServer(ss.Context(), tracer, prop, info.FullMethod)
		defer func() {
			if r := recover(); r != nil {
				span.RecordError(fmt.Errorf("panic: %v", r))
				span.SetStatus(otelcodes.Error, "panic in handler")
				span.End()
				panic(r)
			}
			endServer(span, err)
		}()

		return handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor returns an interceptor that runs each outgoing
// unary call under a client span and writes its context into the outgoing
// metadata. Metadata already on ctx is kept.
//
// Panics if tracer is nil.
//
// Usage:
//
//	conn, err := grpc.NewClient(target,
//	    grpc.WithUnaryInterceptor(hoptracegrpc.UnaryClientInterceptor(tracer, prop)),
//	    grpc.WithStatsHandler(hoptracegrpc.ClientHandler()),
//	)
func UnaryClientInterceptor(tracer *hoptrace.Tracer, prop *hoptrace.Propagator) grpc.UnaryClientInterceptor {
	prop = defaultPropagator(tracer, prop)

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, span := tracer.StartClient(ctx, spanName(method), hoptrace.WithAttributes(rpcAttributes(method)...))
		defer span.End()

		md, ok := metadata.FromOutgoingContext(ctx)
		if ok {
			md = md.Copy()
		} else {
			md = metadata.MD{}
		}
		prop.InjectContext(ctx, MetadataCarrier(md))
		ctx = metadata.NewOutgoingContext(ctx, md)

		err := invoker(ctx, method, req, reply, cc, opts...)
		code := status.Code(err)
		span.SetAttributes(semconv.RPCGRPCStatusCodeKey.Int(int(code)))
		if err != nil {
			span.RecordError(err)
		}

		return err
	}
}

func defaultPropagator(tracer *hoptrace.Tracer, prop *hoptrace.Propagator) *hoptrace.Propagator {
	if tracer == nil {
		panic("hoptrace/grpc: Tracer must not be nil")
	}
	if prop != nil {
		return prop
	}

	return hoptrace.NewPropagator(hoptrace.WithPropagatorDiagnostics(tracer.Diagnostics()))
}

func startServer(ctx context.Context, tracer *hoptrace.Tracer, prop *hoptrace.Propagator, fullMethod string) (context.Context, *hoptrace.Span) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = prop.ExtractContext(ctx, MetadataCarrier(md))

	opts := []hoptrace.SpanStartOption{hoptrace.WithAttributes(rpcAttributes(fullMethod)...)}
	if !hoptrace.SpanContextFromContext(ctx).IsRemote() {
		opts = append(opts, hoptrace.WithNewRoot())
	}

	return tracer.StartServer(ctx, spanName(fullMethod), opts...)
}

func endServer(span *hoptrace.Span, err error) {
	code := status.Code(err)
	span.SetAttributes(semconv.RPCGRPCStatusCodeKey.Int(int(code)))
	if isServerError(code) {
		span.RecordError(err)
	} else if err != nil {
		span.AddEvent("exception", semconv.ExceptionMessageKey.String(err.Error()))
	}
	span.End()
}

// isServerError reports whether code marks a server span as failed. Codes
// caused by the caller, such as NotFound, leave the status unset.
func isServerError(code codes.Code) bool {
	switch code {
	case codes.Unknown, codes.DeadlineExceeded, codes.Unimplemented,
		codes.Internal, codes.Unavailable, codes.DataLoss:
		return true
	default:
		return false
	}
}

// splitMethod splits "/package.Service/Method" into service and method.
func splitMethod(fullMethod string) (service, method string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}

	return "", name
}

func spanName(fullMethod string) string {
	service, method := splitMethod(fullMethod)
	if service == "" {
		return method
	}

	return hoptrace.NameRPC(service, method)
}

func rpcAttributes(fullMethod string) []attribute.KeyValue {
	service, method := splitMethod(fullMethod)
	attrs := []attribute.KeyValue{semconv.RPCSystemGRPC}
	if service != "" {
		attrs = append(attrs, semconv.RPCService(service))
	}
	if method != "" {
		attrs = append(attrs, semconv.RPCMethod(method))
	}

	return attrs
}

// serverStream overrides the stream context with the span context.
type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context {
	return s.ctx
}
