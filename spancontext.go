package hoptrace

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// SpanContext is the immutable identity of one span plus the baggage that
// travels with it: trace ID, span ID, the local parent span ID, sampling
// flags, and whether it was extracted from a remote carrier.
//
// A new SpanContext is produced whenever a span starts or baggage is
// extended; existing values are never modified.
type SpanContext struct {
	traceID      trace.TraceID
	spanID       trace.SpanID
	parentID     trace.SpanID
	flags        trace.TraceFlags
	remote       bool
	parentRemote bool
	baggage      Baggage
}

// NewRoot returns a SpanContext that starts a new trace: fresh trace and span
// IDs, no parent, empty baggage.
func NewRoot(sampled bool) SpanContext {
	tid, sid := defaultIDs.NewIDs(context.Background())

	return newRoot(tid, sid, sampled)
}

func newRoot(tid trace.TraceID, sid trace.SpanID, sampled bool) SpanContext {
	sc := SpanContext{traceID: tid, spanID: sid}
	if sampled {
		sc.flags = trace.FlagsSampled
	}

	return sc
}

// Child returns a SpanContext for a new span under parent. The trace ID,
// flags and baggage are inherited and the parent's span ID becomes the new
// parent ID. An invalid parent yields a sampled root that keeps the parent's
// baggage.
func Child(parent SpanContext) SpanContext {
	if !parent.IsValid() {
		root := NewRoot(true)
		root.baggage = parent.baggage

		return root
	}

	return parent.child(defaultIDs.NewSpanID(context.Background(), parent.traceID))
}

func (sc SpanContext) child(sid trace.SpanID) SpanContext {
	return SpanContext{
		traceID:      sc.traceID,
		spanID:       sid,
		parentID:     sc.spanID,
		flags:        sc.flags,
		parentRemote: sc.remote,
		baggage:      sc.baggage,
	}
}

// WithBaggage returns a copy of sc whose baggage has key set to value.
func WithBaggage(sc SpanContext, key, value string) SpanContext {
	return sc.WithBaggage(key, value)
}

// WithBaggage returns a copy of sc whose baggage has key set to value.
// Overwriting an existing key is the documented way to update cross-cutting
// state such as the sender identity.
func (sc SpanContext) WithBaggage(key, value string) SpanContext {
	sc.baggage = sc.baggage.Set(key, value)
	return sc
}

// WithBaggageMembers returns a copy of sc with every member of b overlaid.
func (sc SpanContext) WithBaggageMembers(b Baggage) SpanContext {
	sc.baggage = sc.baggage.Merge(b)
	return sc
}

// TraceID returns the trace identifier.
func (sc SpanContext) TraceID() trace.TraceID { return sc.traceID }

// SpanID returns the span identifier.
func (sc SpanContext) SpanID() trace.SpanID { return sc.spanID }

// ParentSpanID returns the span ID of the parent, zero for roots and for
// contexts extracted from a carrier.
func (sc SpanContext) ParentSpanID() trace.SpanID { return sc.parentID }

// HasRemoteParent reports whether the parent was extracted from a carrier.
func (sc SpanContext) HasRemoteParent() bool { return sc.parentRemote }

// TraceFlags returns the W3C trace flags.
func (sc SpanContext) TraceFlags() trace.TraceFlags { return sc.flags }

// IsSampled reports whether the sampled flag is set.
func (sc SpanContext) IsSampled() bool { return sc.flags.IsSampled() }

// IsRemote reports whether sc was extracted from a carrier. A fresh root
// returned by a failed extraction is not remote.
func (sc SpanContext) IsRemote() bool { return sc.remote }

// IsValid reports whether both trace and span IDs are non-zero.
func (sc SpanContext) IsValid() bool {
	return sc.traceID.IsValid() && sc.spanID.IsValid()
}

// Baggage returns the baggage carried with sc.
func (sc SpanContext) Baggage() Baggage { return sc.baggage }

// String returns the traceparent encoding of sc.
func (sc SpanContext) String() string {
	return formatTraceparent(sc)
}

// Equal reports whether two contexts carry the same identity, remoteness
// and baggage.
func (sc SpanContext) Equal(other SpanContext) bool {
	return sc.traceID == other.traceID &&
		sc.spanID == other.spanID &&
		sc.parentID == other.parentID &&
		sc.flags == other.flags &&
		sc.remote == other.remote &&
		sc.parentRemote == other.parentRemote &&
		sc.baggage.Equal(other.baggage)
}

// otel converts sc into the OpenTelemetry representation used by SDK samplers
// and exporters. Baggage is not part of it.
func (sc SpanContext) otel() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    sc.traceID,
		SpanID:     sc.spanID,
		TraceFlags: sc.flags,
		Remote:     sc.remote,
	})
}

type spanContextKey struct{}

type spanKey struct{}

// ContextWithSpanContext returns a copy of ctx carrying sc as the ambient
// SpanContext for the current unit of work.
func ContextWithSpanContext(ctx context.Context, sc SpanContext) context.Context {
	return context.WithValue(ctx, spanContextKey{}, sc)
}

// SpanContextFromContext returns the ambient SpanContext, or the zero value.
func SpanContextFromContext(ctx context.Context) SpanContext {
	if ctx == nil {
		return SpanContext{}
	}
	sc, _ := ctx.Value(spanContextKey{}).(SpanContext)

	return sc
}

// ContextWithSpan returns a copy of ctx with span as the active span. The
// ambient SpanContext is set to the span's context.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	ctx = context.WithValue(ctx, spanKey{}, span)
	if span != nil {
		ctx = ContextWithSpanContext(ctx, span.Context())
	}

	return ctx
}

// SpanFromContext returns the active span, or nil. All Span methods are
// safe to call on a nil *Span.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey{}).(*Span)

	return span
}
