package hoptrace

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"pgregory.net/rapid"
)

const (
	scenarioTraceparent = "00-0123456789abcdef0123456789abcdef-abcdef0123456789-01"
)

func scenarioContext(t *testing.T) SpanContext {
	t.Helper()

	return newRoot(
		mustTraceID(t, "0123456789abcdef0123456789abcdef"),
		mustSpanID(t, "abcdef0123456789"),
		true,
	).WithBaggage("team", "payments")
}

func TestPropagator_ConcreteScenario(t *testing.T) {
	p := NewPropagator()

	carrier := MapCarrier{}
	p.Inject(scenarioContext(t), carrier)

	want := MapCarrier{
		"traceparent": scenarioTraceparent,
		"baggage":     "team=payments",
	}
	if diff := cmp.Diff(want, carrier); diff != "" {
		t.Fatalf("carrier mismatch (-want +got):\n%s", diff)
	}

	got := p.Extract(carrier)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", got.TraceID().String())
	assert.Equal(t, "abcdef0123456789", got.SpanID().String())
	assert.True(t, got.IsSampled())
	assert.True(t, got.IsRemote())
	assert.Equal(t, map[string]string{"team": "payments"}, got.Baggage().Map())
}

func TestPropagator_RoundTripProperty(t *testing.T) {
	p := NewPropagator()

	rapid.Check(t, func(rt *rapid.T) {
		tidBytes := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(rt, "traceID")
		sidBytes := rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(rt, "spanID")
		sampled := rapid.Bool().Draw(rt, "sampled")
		members := rapid.MapOfN(rapid.StringN(1, 16, -1), rapid.String(), 0, 12).Draw(rt, "baggage")

		var tid trace.TraceID
		var sid trace.SpanID
		copy(tid[:], tidBytes)
		copy(sid[:], sidBytes)
		tid[15] |= 1
		sid[7] |= 1

		keys := make([]string, 0, len(members))
		for k := range members {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		sc := newRoot(tid, sid, sampled)
		for _, k := range keys {
			sc = sc.WithBaggage(k, members[k])
		}

		carrier := MapCarrier{"x-unrelated": "keep"}
		p.Inject(sc, carrier)
		got := p.Extract(carrier)

		if got.TraceID() != tid || got.SpanID() != sid || got.IsSampled() != sampled {
			rt.Fatalf("identity mismatch: got %s want %s", got, sc)
		}
		if !got.Baggage().Equal(sc.Baggage()) {
			rt.Fatalf("baggage mismatch: got %v want %v", got.Baggage().Map(), members)
		}
		if carrier["x-unrelated"] != "keep" {
			rt.Fatalf("unrelated key modified")
		}
	})
}

func TestPropagator_ProducerToConsumerLinkage(t *testing.T) {
	tracer, exp := newTestTracer(t)
	p := NewPropagator()

	_, producer := tracer.StartProducer(context.Background(), "send orders")
	carrier := MapCarrier{}
	p.Inject(producer.Context(), carrier)
	producer.End()

	parent := p.Extract(carrier)
	consumer := tracer.StartSpan(parent, "process orders", WithSpanKind(trace.SpanKindConsumer))
	consumer.End()

	spans := exp.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].TraceID(), spans[1].TraceID())
	assert.Equal(t, spans[0].SpanID(), spans[1].ParentSpanID())
	assert.True(t, spans[1].Context.HasRemoteParent())
}

func TestPropagator_BaggageEncoding(t *testing.T) {
	p := NewPropagator()
	sc := NewRoot(true).
		WithBaggage("a=b,c", "x,y=z%; \"é").
		WithBaggage("plain", "value")

	carrier := MapCarrier{}
	p.Inject(sc, carrier)

	assert.Equal(t, "a%3Db%2Cc=x%2Cy%3Dz%25%3B%20%22%C3%A9,plain=value", carrier[BaggageHeader])
	assert.True(t, sc.Baggage().Equal(p.Extract(carrier).Baggage()))
}

func TestPropagator_InjectIsIdempotent(t *testing.T) {
	p := NewPropagator()
	sc := scenarioContext(t)

	first := MapCarrier{}
	p.Inject(sc, first)
	second := MapCarrier{}
	p.Inject(sc, second)
	p.Inject(sc, second)

	assert.Equal(t, first, second)
}

func TestPropagator_InjectLeavesUnrelatedKeys(t *testing.T) {
	p := NewPropagator()
	carrier := MapCarrier{
		"content-type": "application/json",
		"traceparent":  "stale",
	}

	p.Inject(scenarioContext(t), carrier)

	assert.Equal(t, "application/json", carrier["content-type"])
	assert.Equal(t, scenarioTraceparent, carrier["traceparent"])
}

func TestPropagator_InjectSkipsEmpty(t *testing.T) {
	p := NewPropagator()

	carrier := MapCarrier{}
	p.Inject(SpanContext{}, carrier)
	assert.Empty(t, carrier)

	p.Inject(NewRoot(true), carrier)
	assert.Contains(t, carrier, TraceparentHeader)
	assert.NotContains(t, carrier, BaggageHeader)

	assert.NotPanics(t, func() { p.Inject(NewRoot(true), nil) })
}

func TestPropagator_GracefulDegradation(t *testing.T) {
	cases := []struct {
		name      string
		value     string
		malformed bool
	}{
		{name: "missing", value: ""},
		{name: "garbage", value: "not-a-traceparent", malformed: true},
		{name: "short", value: "00-0123456789abcdef-abcdef0123456789-01", malformed: true},
		{name: "uppercase hex", value: "00-0123456789ABCDEF0123456789ABCDEF-abcdef0123456789-01", malformed: true},
		{name: "unsupported version", value: "ff-0123456789abcdef0123456789abcdef-abcdef0123456789-01", malformed: true},
		{name: "future version", value: "01-0123456789abcdef0123456789abcdef-abcdef0123456789-01", malformed: true},
		{name: "zero trace id", value: "00-00000000000000000000000000000000-abcdef0123456789-01", malformed: true},
		{name: "zero span id", value: "00-0123456789abcdef0123456789abcdef-0000000000000000-01", malformed: true},
		{name: "bad delimiter", value: "00_0123456789abcdef0123456789abcdef-abcdef0123456789-01", malformed: true},
		{name: "non hex flags", value: "00-0123456789abcdef0123456789abcdef-abcdef0123456789-zz", malformed: true},
		{name: "trailing data", value: scenarioTraceparent + "-extra", malformed: true},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			d, _, errs := newObservedDiagnostics(t)
			p := NewPropagator(WithPropagatorDiagnostics(d))

			carrier := MapCarrier{"baggage": "team=payments"}
			if tt.value != "" {
				carrier[TraceparentHeader] = tt.value
			}

			var got SpanContext
			require.NotPanics(t, func() { got = p.Extract(carrier) })

			assert.True(t, got.IsValid(), "fallback must be a valid root")
			assert.False(t, got.IsRemote(), "fallback must be distinguishable from an extracted context")
			assert.False(t, got.ParentSpanID().IsValid())
			assert.Equal(t, "payments", got.Baggage().Value("team"), "baggage survives a bad traceparent")

			if tt.malformed {
				require.Len(t, errs(), 1)
				assert.ErrorIs(t, errs()[0], ErrMalformedCarrier)
			} else {
				assert.Empty(t, errs())
			}
		})
	}
}

func TestPropagator_FallbackRootsAreFresh(t *testing.T) {
	p := NewPropagator()
	a := p.Extract(MapCarrier{})
	b := p.Extract(MapCarrier{})

	assert.NotEqual(t, a.TraceID(), b.TraceID())
}

func TestPropagator_FallbackUsesRootSampler(t *testing.T) {
	p := NewPropagator(WithRootSampler(sdktrace.NeverSample()))
	assert.False(t, p.Extract(MapCarrier{}).IsSampled())
}

func TestPropagator_BaggagePerEntryDrop(t *testing.T) {
	d, _, errs := newObservedDiagnostics(t)
	p := NewPropagator(WithPropagatorDiagnostics(d))

	carrier := MapCarrier{
		TraceparentHeader: scenarioTraceparent,
		BaggageHeader:     "team=payments,broken,=empty,bad=%zz,ok=1;prop=x, spaced = v ,team=billing",
	}
	got := p.Extract(carrier)

	assert.True(t, got.IsRemote())
	assert.Equal(t, []string{"team", "ok", "spaced"}, got.Baggage().Keys())
	assert.Equal(t, "billing", got.Baggage().Value("team"), "last duplicate wins")
	assert.Equal(t, "1", got.Baggage().Value("ok"))
	assert.Equal(t, "v", got.Baggage().Value("spaced"))

	require.Len(t, errs(), 1)
	assert.ErrorIs(t, errs()[0], ErrMalformedCarrier)
	assert.Contains(t, errs()[0].Error(), "dropped 3")
}

func TestPropagator_LargeBaggageRoundTrip(t *testing.T) {
	d, _, errs := newObservedDiagnostics(t)
	p := NewPropagator(WithPropagatorDiagnostics(d))

	sc := NewRoot(true)
	for i := range 200 {
		sc = sc.WithBaggage(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}
	carrier := MapCarrier{}
	p.Inject(sc, carrier)
	got := p.Extract(carrier)

	assert.Equal(t, 200, got.Baggage().Len())
	assert.True(t, sc.Baggage().Equal(got.Baggage()))
	assert.Equal(t, "k199", got.Baggage().Keys()[199])
	assert.Empty(t, errs())
}

func TestPropagator_LargeBaggageHeader(t *testing.T) {
	members := make([]string, 0, 200)
	for i := range 200 {
		members = append(members, fmt.Sprintf("k%d=v", i))
	}

	got := NewPropagator().Extract(MapCarrier{BaggageHeader: strings.Join(members, ",")})
	assert.Equal(t, 200, got.Baggage().Len())
	assert.Equal(t, "k0", got.Baggage().Keys()[0])
}

func TestPropagator_MultiValuedCarrier(t *testing.T) {
	header := http.Header{}
	header.Add(TraceparentHeader, scenarioTraceparent)
	header.Add(TraceparentHeader, "00-11111111111111111111111111111111-2222222222222222-01")
	header.Add(BaggageHeader, "team=payments")
	header.Add(BaggageHeader, "region=eu")

	got := NewPropagator().Extract(HeaderCarrier(header))

	assert.Equal(t, "0123456789abcdef0123456789abcdef", got.TraceID().String())
	assert.Equal(t, map[string]string{"team": "payments", "region": "eu"}, got.Baggage().Map())
}

func TestPropagator_SelectFormats(t *testing.T) {
	t.Run("baggage only", func(t *testing.T) {
		p := NewPropagator(WithPropagators("baggage"))
		assert.Equal(t, []string{BaggageHeader}, p.Fields())

		carrier := MapCarrier{}
		p.Inject(scenarioContext(t), carrier)
		assert.Equal(t, MapCarrier{BaggageHeader: "team=payments"}, carrier)

		got := p.Extract(MapCarrier{TraceparentHeader: scenarioTraceparent, BaggageHeader: "a=1"})
		assert.False(t, got.IsRemote())
		assert.Equal(t, "1", got.Baggage().Value("a"))
	})

	t.Run("none and unknown", func(t *testing.T) {
		d, _, errs := newObservedDiagnostics(t)
		p := NewPropagator(WithPropagators("none", "b3"), WithPropagatorDiagnostics(d))
		assert.Empty(t, p.Fields())
		require.Len(t, errs(), 1)
		assert.Contains(t, errs()[0].Error(), `"b3"`)
	})

	t.Run("from config", func(t *testing.T) {
		p := NewPropagatorFromConfig(&PropConfig{Propagators: "tracecontext"})
		assert.Equal(t, []string{TraceparentHeader}, p.Fields())

		assert.Equal(t, []string{TraceparentHeader, BaggageHeader}, NewPropagatorFromConfig(nil).Fields())
	})
}

func TestPropagator_ContextHelpers(t *testing.T) {
	p := NewPropagator()
	ctx := ContextWithSpanContext(context.Background(), scenarioContext(t))

	carrier := MapCarrier{}
	p.InjectContext(ctx, carrier)
	assert.Equal(t, scenarioTraceparent, carrier[TraceparentHeader])

	out := p.ExtractContext(context.Background(), carrier)
	assert.Equal(t, "payments", GetBaggage(out, "team"))
	assert.True(t, SpanContextFromContext(out).IsRemote())
}

func TestPropagator_TextMapPropagator(t *testing.T) {
	p := NewPropagator()
	tmp := p.TextMapPropagator()
	assert.Equal(t, []string{TraceparentHeader, BaggageHeader}, tmp.Fields())

	header := http.Header{}
	ctx := ContextWithSpanContext(context.Background(), scenarioContext(t))
	tmp.Inject(ctx, propagation.HeaderCarrier(header))
	assert.Equal(t, scenarioTraceparent, header.Get("Traceparent"))

	out := tmp.Extract(context.Background(), propagation.HeaderCarrier(header))
	osc := trace.SpanContextFromContext(out)
	assert.True(t, osc.IsRemote())
	assert.Equal(t, "0123456789abcdef0123456789abcdef", osc.TraceID().String())
	assert.Equal(t, "payments", GetBaggage(out, "team"))
}

func TestPropagator_TextMapPropagatorInjectsOTelSpan(t *testing.T) {
	osc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    mustTraceID(t, "0123456789abcdef0123456789abcdef"),
		SpanID:     mustSpanID(t, "abcdef0123456789"),
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), osc)

	carrier := propagation.MapCarrier{}
	NewPropagator().TextMapPropagator().Inject(ctx, carrier)
	assert.Equal(t, scenarioTraceparent, carrier.Get(TraceparentHeader))
}
