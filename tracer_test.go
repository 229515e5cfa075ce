package hoptrace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTracer_ParentFromContext(t *testing.T) {
	tracer, exp := newTestTracer(t)

	ctx, root := tracer.StartServer(context.Background(), "POST /send")
	ctx, child := tracer.StartInternal(ctx, "validate")
	_, grandchild := tracer.StartClient(ctx, "lookup")
	grandchild.End()
	child.End()
	root.End()

	spans := exp.Spans()
	require.Len(t, spans, 3)
	gc, c, r := spans[0], spans[1], spans[2]

	assert.False(t, r.ParentSpanID().IsValid())
	assert.Equal(t, r.SpanID(), c.ParentSpanID())
	assert.Equal(t, c.SpanID(), gc.ParentSpanID())
	assert.Equal(t, r.TraceID(), gc.TraceID())
	assert.Equal(t, trace.SpanKindServer, r.Kind)
	assert.Equal(t, trace.SpanKindClient, gc.Kind)
}

func TestTracer_ExplicitParentOptions(t *testing.T) {
	tracer, exp := newTestTracer(t)

	parent := NewRoot(true).WithBaggage("team", "payments")
	ambient := ContextWithSpanContext(context.Background(), NewRoot(true))

	_, s1 := tracer.Start(ambient, "explicit", WithParent(parent))
	s1.End()
	_, s2 := tracer.Start(ContextWithSpanContext(context.Background(), parent), "fresh", WithNewRoot())
	s2.End()

	spans := exp.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, parent.TraceID(), spans[0].TraceID())
	assert.Equal(t, parent.SpanID(), spans[0].ParentSpanID())

	assert.NotEqual(t, parent.TraceID(), spans[1].TraceID())
	assert.False(t, spans[1].ParentSpanID().IsValid())
	assert.Equal(t, "payments", spans[1].Context.Baggage().Value("team"), "new root keeps baggage")
}

func TestTracer_StartSpanInvalidParent(t *testing.T) {
	tracer, _ := newTestTracer(t)

	span := tracer.StartSpan(SpanContext{}, "orphan")
	assert.True(t, span.Context().IsValid())
	assert.False(t, span.Context().ParentSpanID().IsValid())
	span.End()
}

func TestTracer_ContextCarriesSpan(t *testing.T) {
	tracer, _ := newTestTracer(t)

	ctx, span := tracer.Start(context.Background(), "work")
	defer span.End()

	assert.Same(t, span, SpanFromContext(ctx))
	assert.True(t, span.Context().Equal(SpanContextFromContext(ctx)))
}

func TestTracer_Sampling(t *testing.T) {
	t.Run("never sample records but does not export", func(t *testing.T) {
		tracer, exp := newTestTracer(t, WithSampler(sdktrace.NeverSample()))
		_, span := tracer.Start(context.Background(), "work")
		assert.True(t, span.IsRecording())
		assert.False(t, span.Context().IsSampled())
		span.End()
		assert.Empty(t, exp.Spans())
	})

	t.Run("parent based follows remote decision", func(t *testing.T) {
		tracer, exp := newTestTracer(t)
		p := NewPropagator()
		parent := p.Extract(MapCarrier{TraceparentHeader: "00-0123456789abcdef0123456789abcdef-abcdef0123456789-00"})
		require.True(t, parent.IsRemote())

		span := tracer.StartSpan(parent, "process")
		assert.False(t, span.Context().IsSampled())
		span.End()
		assert.Empty(t, exp.Spans())
	})

	t.Run("tracer root policy", func(t *testing.T) {
		tracer, _ := newTestTracer(t, WithSampler(sdktrace.NeverSample()))
		assert.False(t, tracer.NewRoot().IsSampled())
	})
}

func TestTracer_Namer(t *testing.T) {
	tracer, exp := newTestTracer(t, WithNamer(NamerFunc(func(op string) string { return "svc." + op })))
	_, span := tracer.Start(context.Background(), "work")
	span.End()

	assert.Equal(t, "svc.work", exp.Spans()[0].Name)
}

func TestTracer_Clock(t *testing.T) {
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	tracer, exp := newTestTracer(t, WithClock(func() time.Time { return fixed }))

	_, span := tracer.Start(context.Background(), "work")
	span.AddEvent("e")
	span.End()

	fs := exp.Spans()[0]
	assert.Equal(t, fixed, fs.StartTime)
	assert.Equal(t, fixed, fs.EndTime)
	assert.Equal(t, fixed, fs.Events[0].Time)
}

func TestTracer_ShutdownTruncatesLiveSpans(t *testing.T) {
	d, _, errs := newObservedDiagnostics(t)
	tracer, exp := newTestTracer(t, WithDiagnostics(d))

	_, finished := tracer.Start(context.Background(), "finished")
	finished.End()
	_, dangling := tracer.StartConsumer(context.Background(), "process orders")
	dangling.SetAttributes(attribute.String("k", "v"))

	require.NoError(t, tracer.Shutdown(context.Background()))

	assert.False(t, dangling.IsRecording())
	spans := exp.Spans()
	require.Len(t, spans, 2)

	fs := spans[1]
	assert.Equal(t, "process orders", fs.Name)
	assert.Equal(t, Status{Code: codes.Error, Description: "span truncated: tracer shutdown"}, fs.Status)
	v, ok := fs.Attribute(TruncatedKey)
	require.True(t, ok)
	assert.True(t, v.AsBool())

	// The owner ending its span afterwards is not misuse.
	dangling.End()
	assert.Empty(t, errs())
	assert.Len(t, exp.Spans(), 2)

	// Spans started after shutdown are never exported.
	_, late := tracer.Start(context.Background(), "late")
	late.End()
	assert.Len(t, exp.Spans(), 2)

	require.NoError(t, tracer.Shutdown(context.Background()))
}

func TestTracer_ConcurrentSpans(t *testing.T) {
	tracer, exp := newTestTracer(t)
	ctx, root := tracer.Start(context.Background(), "root")

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, span := tracer.StartConsumer(ctx, "process")
			span.SetAttributes(attribute.Int("n", 1))
			span.End()
		}()
	}
	wg.Wait()
	root.End()

	spans := exp.Spans()
	require.Len(t, spans, 33)
	for _, fs := range spans[:32] {
		assert.Equal(t, root.Context().SpanID(), fs.ParentSpanID())
	}
	assert.Equal(t, 0, tracer.live.Len())
}

func TestTracer_NoProcessor(t *testing.T) {
	tracer := NewTracer("bare")
	_, span := tracer.Start(context.Background(), "work")
	span.End()

	require.NoError(t, tracer.ForceFlush(context.Background()))
	require.NoError(t, tracer.Shutdown(context.Background()))
}
