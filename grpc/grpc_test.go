package grpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/hoptrace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type spanRecorder struct {
	mu    sync.Mutex
	spans []hoptrace.FinishedSpan
}

func (r *spanRecorder) Export(_ context.Context, spans []hoptrace.FinishedSpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, spans...)

	return nil
}

func (r *spanRecorder) Shutdown(context.Context) error { return nil }

func (r *spanRecorder) byKind(kind trace.SpanKind) []hoptrace.FinishedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []hoptrace.FinishedSpan
	for _, s := range r.spans {
		if s.Kind == kind {
			out = append(out, s)
		}
	}

	return out
}

func newTracer(t *testing.T) (*hoptrace.Tracer, *spanRecorder) {
	t.Helper()
	rec := &spanRecorder{}
	tracer := hoptrace.NewTracer("grpc-test", hoptrace.WithProcessor(hoptrace.NewSimpleProcessor(rec, nil)))
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	return tracer, rec
}

// startHealth serves the gRPC health service over an in-memory listener
// and returns a client for it.
func startHealth(t *testing.T, serverOpts []grpc.ServerOption, dialOpts ...grpc.DialOption) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer(serverOpts...)
	hs := health.NewServer()
	hs.SetServingStatus("orders", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	dialOpts = append(dialOpts,
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	conn, err := grpc.NewClient("passthrough://bufnet", dialOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func TestMetadataCarrier(t *testing.T) {
	md := metadata.MD{}
	c := MetadataCarrier(md)

	c.Set("Traceparent", "00-abc-def-01")
	md.Append("baggage", "a=1", "b=2")

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"a=1", "b=2"}, c.Values("baggage"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, c.Keys())
}

func TestUnaryClientToServer(t *testing.T) {
	tracer, rec := newTracer(t)
	prop := hoptrace.NewPropagator()

	var (
		gotTenant    string
		gotRequestID string
	)
	capture := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		gotTenant = hoptrace.GetBaggage(ctx, "tenant")
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-request-id"); len(v) > 0 {
				gotRequestID = v[0]
			}
		}

		return handler(ctx, req)
	}

	client := startHealth(t,
		[]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryServerInterceptor(tracer, prop), capture)},
		grpc.WithUnaryInterceptor(UnaryClientInterceptor(tracer, prop)),
	)

	ctx := hoptrace.MustSetBaggage(context.Background(), "tenant", "acme")
	ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", "req-1")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "orders"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	assert.Equal(t, "acme", gotTenant)
	assert.Equal(t, "req-1", gotRequestID)

	clientSpans := rec.byKind(trace.SpanKindClient)
	serverSpans := rec.byKind(trace.SpanKindServer)
	require.Len(t, clientSpans, 1)
	require.Len(t, serverSpans, 1)

	cs, ss := clientSpans[0], serverSpans[0]
	assert.Equal(t, "grpc.health.v1.Health/Check", cs.Name)
	assert.Equal(t, cs.Name, ss.Name)
	assert.Equal(t, cs.TraceID(), ss.TraceID())
	assert.Equal(t, cs.SpanID(), ss.ParentSpanID())
	assert.True(t, ss.Context.HasRemoteParent())

	svc, ok := ss.Attribute("rpc.service")
	require.True(t, ok)
	assert.Equal(t, "grpc.health.v1.Health", svc.AsString())
	code, ok := ss.Attribute("rpc.grpc.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(codes.OK), code.AsInt64())
}

func TestUnary_ClientErrorStatus(t *testing.T) {
	tracer, rec := newTracer(t)
	client := startHealth(t,
		[]grpc.ServerOption{grpc.UnaryInterceptor(UnaryServerInterceptor(tracer, nil))},
		grpc.WithUnaryInterceptor(UnaryClientInterceptor(tracer, nil)),
	)

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "unknown"})
	require.Equal(t, codes.NotFound, status.Code(err))

	clientSpans := rec.byKind(trace.SpanKindClient)
	serverSpans := rec.byKind(trace.SpanKindServer)
	require.Len(t, clientSpans, 1)
	require.Len(t, serverSpans, 1)
	assert.Equal(t, otelcodes.Error, clientSpans[0].Status.Code)
	assert.Equal(t, otelcodes.Unset, serverSpans[0].Status.Code, "NotFound is the caller's fault")
}

func TestUnaryServerInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/orders.Orders/Create"}

	t.Run("continues remote trace", func(t *testing.T) {
		tracer, rec := newTracer(t)
		parent := hoptrace.NewRoot(true)
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("traceparent", parent.String()))

		var active hoptrace.SpanContext
		_, err := UnaryServerInterceptor(tracer, nil)(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
			active = hoptrace.SpanContextFromContext(ctx)
			return "ok", nil
		})
		require.NoError(t, err)

		spans := rec.byKind(trace.SpanKindServer)
		require.Len(t, spans, 1)
		assert.Equal(t, "orders.Orders/Create", spans[0].Name)
		assert.Equal(t, parent.SpanID(), spans[0].ParentSpanID())
		assert.Equal(t, spans[0].SpanID(), active.SpanID())
	})

	t.Run("no metadata starts new trace", func(t *testing.T) {
		tracer, rec := newTracer(t)
		_, err := UnaryServerInterceptor(tracer, nil)(context.Background(), nil, info, func(context.Context, any) (any, error) {
			return nil, status.Error(codes.Internal, "db down")
		})
		require.Error(t, err)

		spans := rec.byKind(trace.SpanKindServer)
		require.Len(t, spans, 1)
		assert.False(t, spans[0].ParentSpanID().IsValid())
		assert.Equal(t, otelcodes.Error, spans[0].Status.Code)
	})

	t.Run("panic re-raised after end", func(t *testing.T) {
		tracer, rec := newTracer(t)
		assert.PanicsWithValue(t, "boom", func() {
			_, _ = UnaryServerInterceptor(tracer, nil)(context.Background(), nil, info, func(context.Context, any) (any, error) {
				panic("boom")
			})
		})

		spans := rec.byKind(trace.SpanKindServer)
		require.Len(t, spans, 1)
		assert.Equal(t, "panic in handler", spans[0].Status.Description)
	})
}

func TestStreamServerInterceptor(t *testing.T) {
	tracer, rec := newTracer(t)
	client := startHealth(t,
		[]grpc.ServerOption{grpc.StreamInterceptor(StreamServerInterceptor(tracer, nil))},
	)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{Service: "orders"})
	require.NoError(t, err)
	resp, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	cancel()

	require.Eventually(t, func() bool {
		return len(rec.byKind(trace.SpanKindServer)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "grpc.health.v1.Health/Watch", rec.byKind(trace.SpanKindServer)[0].Name)
}

func TestStatsHandlersRecordMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	client := startHealth(t,
		[]grpc.ServerOption{grpc.StatsHandler(ServerHandler(WithMeterProvider(mp)))},
		grpc.WithStatsHandler(ClientHandler(WithMeterProvider(mp))),
	)
	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "orders"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			return false
		}
		for _, sm := range rm.ScopeMetrics {
			if len(sm.Metrics) > 0 {
				return true
			}
		}

		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIsServerError(t *testing.T) {
	assert.True(t, isServerError(codes.Internal))
	assert.True(t, isServerError(codes.Unavailable))
	assert.False(t, isServerError(codes.OK))
	assert.False(t, isServerError(codes.NotFound))
	assert.False(t, isServerError(codes.InvalidArgument))
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in, service, method string
	}{
		{"/orders.Orders/Create", "orders.Orders", "Create"},
		{"orders.Orders/Create", "orders.Orders", "Create"},
		{"Create", "", "Create"},
	}
	for _, tt := range tests {
		service, method := splitMethod(tt.in)
		assert.Equal(t, tt.service, service, tt.in)
		assert.Equal(t, tt.method, method, tt.in)
	}
	assert.Equal(t, "Create", spanName("Create"))
}

func TestInterceptors_PanicOnNilTracer(t *testing.T) {
	assert.Panics(t, func() { UnaryServerInterceptor(nil, nil) })
	assert.Panics(t, func() { UnaryClientInterceptor(nil, nil) })
	assert.Panics(t, func() { StreamServerInterceptor(nil, nil) })
}
