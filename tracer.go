package hoptrace

import (
	"context"
	"time"

	"github.com/arloliu/hoptrace/internal/tracker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer creates spans and hands finished ones to its Processor.
//
// There is no global tracer: construct one at startup and pass it to every
// component that starts spans.
type Tracer struct {
	name      string
	sampler   sdktrace.Sampler
	ids       sdktrace.IDGenerator
	processor Processor
	namer     SpanNamer
	diag      *Diagnostics
	clock     func() time.Time
	live      *tracker.Registry[*Span]
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithSampler sets the sampling policy. Defaults to parent-based always-on.
func WithSampler(s sdktrace.Sampler) TracerOption {
	return func(t *Tracer) {
		if s != nil {
			t.sampler = s
		}
	}
}

// WithIDGenerator sets the trace and span ID source.
func WithIDGenerator(g sdktrace.IDGenerator) TracerOption {
	return func(t *Tracer) {
		if g != nil {
			t.ids = g
		}
	}
}

// WithProcessor sets where finished spans are sent. Without a processor
// spans are recorded but never exported.
func WithProcessor(p Processor) TracerOption {
	return func(t *Tracer) {
		t.processor = p
	}
}

// WithNamer sets how operation names become span names.
func WithNamer(n SpanNamer) TracerOption {
	return func(t *Tracer) {
		if n != nil {
			t.namer = n
		}
	}
}

// WithDiagnostics sets where span misuse and other failures are reported.
func WithDiagnostics(d *Diagnostics) TracerOption {
	return func(t *Tracer) {
		t.diag = d
	}
}

// WithClock overrides the time source for span and event timestamps.
func WithClock(now func() time.Time) TracerOption {
	return func(t *Tracer) {
		if now != nil {
			t.clock = now
		}
	}
}

// NewTracer creates a Tracer. name is recorded as the instrumentation scope
// of every span it creates.
func NewTracer(name string, opts ...TracerOption) *Tracer {
	t := &Tracer{
		name:    name,
		sampler: sdktrace.ParentBased(sdktrace.AlwaysSample()),
		ids:     defaultIDs,
		namer:   DefaultNamer{},
		clock:   time.Now,
		live:    tracker.New[*Span](),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Diagnostics returns the tracer's diagnostics sink, which may be nil.
func (t *Tracer) Diagnostics() *Diagnostics {
	if t == nil {
		return nil
	}

	return t.diag
}

// NewRoot returns a root SpanContext sampled according to the tracer policy.
func (t *Tracer) NewRoot() SpanContext {
	tid, sid := t.ids.NewIDs(context.Background())

	return newRoot(tid, sid, shouldSample(t.sampler, SpanContext{}, tid, "", trace.SpanKindInternal, nil))
}

// SpanStartOption configures a span at start.
type SpanStartOption func(*startConfig)

type startConfig struct {
	kind      trace.SpanKind
	attrs     []attribute.KeyValue
	timestamp time.Time
	parent    *SpanContext
	newRoot   bool
}

// WithSpanKind sets the span kind. Defaults to Internal.
func WithSpanKind(kind trace.SpanKind) SpanStartOption {
	return func(c *startConfig) {
		c.kind = kind
	}
}

// WithAttributes sets attributes at start; they are visible to the sampler.
func WithAttributes(attrs ...attribute.KeyValue) SpanStartOption {
	return func(c *startConfig) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// WithTimestamp sets an explicit start time.
func WithTimestamp(ts time.Time) SpanStartOption {
	return func(c *startConfig) {
		c.timestamp = ts
	}
}

// WithParent uses sc as parent instead of the ambient context.
func WithParent(sc SpanContext) SpanStartOption {
	return func(c *startConfig) {
		c.parent = &sc
	}
}

// WithNewRoot starts a new trace. Baggage of the would-be parent is kept.
func WithNewRoot() SpanStartOption {
	return func(c *startConfig) {
		c.newRoot = true
	}
}

// Start begins a span whose parent is the ambient SpanContext of ctx, and
// returns ctx with the new span active.
func (t *Tracer) Start(ctx context.Context, operation string, opts ...SpanStartOption) (context.Context, *Span) {
	cfg := startConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}

	parent := SpanContextFromContext(ctx)
	if cfg.parent != nil {
		parent = *cfg.parent
	}
	span := t.start(ctx, parent, operation, &cfg)

	return ContextWithSpan(ctx, span), span
}

// StartSpan begins a span under an explicit parent. An invalid parent starts
// a new trace.
func (t *Tracer) StartSpan(parent SpanContext, operation string, opts ...SpanStartOption) *Span {
	cfg := startConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.parent != nil {
		parent = *cfg.parent
	}

	return t.start(context.Background(), parent, operation, &cfg)
}

// StartServer begins a server span (e.g., handling an incoming request).
func (t *Tracer) StartServer(ctx context.Context, operation string, opts ...SpanStartOption) (context.Context, *Span) {
	return t.Start(ctx, operation, append([]SpanStartOption{WithSpanKind(trace.SpanKindServer)}, opts...)...)
}

// StartClient begins a client span (e.g., making an outgoing request).
func (t *Tracer) StartClient(ctx context.Context, operation string, opts ...SpanStartOption) (context.Context, *Span) {
	return t.Start(ctx, operation, append([]SpanStartOption{WithSpanKind(trace.SpanKindClient)}, opts...)...)
}

// StartInternal begins an internal span (e.g., local processing).
func (t *Tracer) StartInternal(ctx context.Context, operation string, opts ...SpanStartOption) (context.Context, *Span) {
	return t.Start(ctx, operation, append([]SpanStartOption{WithSpanKind(trace.SpanKindInternal)}, opts...)...)
}

// StartProducer begins a producer span (e.g., publishing a message).
func (t *Tracer) StartProducer(ctx context.Context, operation string, opts ...SpanStartOption) (context.Context, *Span) {
	return t.Start(ctx, operation, append([]SpanStartOption{WithSpanKind(trace.SpanKindProducer)}, opts...)...)
}

// StartConsumer begins a consumer span (e.g., processing a message from a queue).
func (t *Tracer) StartConsumer(ctx context.Context, operation string, opts ...SpanStartOption) (context.Context, *Span) {
	return t.Start(ctx, operation, append([]SpanStartOption{WithSpanKind(trace.SpanKindConsumer)}, opts...)...)
}

func (t *Tracer) start(ctx context.Context, parent SpanContext, operation string, cfg *startConfig) *Span {
	name := t.namer.Name(operation)

	var sc SpanContext
	if cfg.newRoot || !parent.IsValid() {
		tid, sid := t.ids.NewIDs(ctx)
		sc = newRoot(tid, sid, shouldSample(t.sampler, SpanContext{}, tid, name, cfg.kind, cfg.attrs))
	} else {
		sc = parent.child(t.ids.NewSpanID(ctx, parent.traceID))
		sc.flags = sc.flags &^ trace.FlagsSampled
		if shouldSample(t.sampler, parent, parent.traceID, name, cfg.kind, cfg.attrs) {
			sc.flags |= trace.FlagsSampled
		}
	}
	sc.baggage = parent.baggage

	start := cfg.timestamp
	if start.IsZero() {
		start = t.now()
	}

	span := &Span{
		tracer: t,
		sc:     sc,
		name:   name,
		kind:   cfg.kind,
		start:  start,
	}
	span.setAttributesLocked(cfg.attrs)
	span.registered = t.live.Add(span)
	t.diag.spanStarted(ctx)

	return span
}

// finish is called once per span after it has ended.
func (t *Tracer) finish(s *Span, fs FinishedSpan) {
	t.live.Remove(s)
	t.diag.spanEnded(context.Background())

	if !s.registered || !fs.Context.IsSampled() || t.processor == nil {
		return
	}
	t.processor.OnEnd(fs)
}

// Shutdown ends every span still recording with an Error status marking it
// as truncated, then shuts down the processor. Spans started afterwards are
// never exported. Shutdown is safe to call more than once.
func (t *Tracer) Shutdown(ctx context.Context) error {
	for _, s := range t.live.Close() {
		if fs, ok := s.truncate(); ok {
			t.diag.spanEnded(ctx)
			if fs.Context.IsSampled() && t.processor != nil {
				t.processor.OnEnd(fs)
			}
		}
	}

	if t.processor == nil {
		return nil
	}

	return t.processor.Shutdown(ctx)
}

// ForceFlush exports every span the processor holds.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if t.processor == nil {
		return nil
	}

	return t.processor.ForceFlush(ctx)
}

func (t *Tracer) now() time.Time {
	if t == nil || t.clock == nil {
		return time.Now()
	}

	return t.clock()
}

// shouldSample consults an OTel SDK sampler. parent is passed as the
// sampler's parent context when valid.
func shouldSample(s sdktrace.Sampler, parent SpanContext, tid trace.TraceID, name string, kind trace.SpanKind, attrs []attribute.KeyValue) bool {
	ctx := context.Background()
	if parent.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, parent.otel())
	}
	res := s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: ctx,
		TraceID:       tid,
		Name:          name,
		Kind:          kind,
		Attributes:    attrs,
	})

	return res.Decision == sdktrace.RecordAndSample
}

// RecordError records err on the active span and sets status Error.
// If err is nil, this is a no-op.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	SpanFromContext(ctx).RecordError(err, attrs...)
}

// SetSuccess marks the active span as successful.
func SetSuccess(ctx context.Context) {
	SpanFromContext(ctx).SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the active span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	SpanFromContext(ctx).AddEvent(name, attrs...)
}

// SetAttributes sets attributes on the active span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	SpanFromContext(ctx).SetAttributes(attrs...)
}

// TraceID returns the ambient trace ID as hex, or empty string if none.
func TraceID(ctx context.Context) string {
	sc := SpanContextFromContext(ctx)
	if sc.traceID.IsValid() {
		return sc.traceID.String()
	}

	return ""
}

// SpanID returns the ambient span ID as hex, or empty string if none.
func SpanID(ctx context.Context) string {
	sc := SpanContextFromContext(ctx)
	if sc.spanID.IsValid() {
		return sc.spanID.String()
	}

	return ""
}
