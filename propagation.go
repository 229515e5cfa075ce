package hoptrace

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// knownPropagators lists the OTEL_PROPAGATORS names this package understands.
var knownPropagators = map[string]bool{
	"tracecontext": true,
	"baggage":      true,
	"none":         true,
}

// Propagator encodes a SpanContext and its baggage into a carrier and back.
//
// The wire format is W3C Trace Context ("traceparent") plus W3C Baggage
// ("baggage"). Extract never fails: a missing or malformed traceparent yields
// a fresh, non-remote root, and undecodable baggage members are dropped one
// by one. Recoveries are reported through Diagnostics as ErrMalformedCarrier.
//
// A Propagator is immutable after construction and safe for concurrent use.
type Propagator struct {
	traceContext bool
	baggage      bool
	sampler      sdktrace.Sampler
	ids          sdktrace.IDGenerator
	diag         *Diagnostics
}

// PropagatorOption configures a Propagator.
type PropagatorOption func(*propagatorOptions)

type propagatorOptions struct {
	names   []string
	sampler sdktrace.Sampler
	ids     sdktrace.IDGenerator
	diag    *Diagnostics
}

// WithPropagators selects the enabled formats by OTEL_PROPAGATORS name:
// "tracecontext", "baggage" or "none". Unknown names are reported and ignored.
// Both formats are enabled by default.
func WithPropagators(names ...string) PropagatorOption {
	return func(o *propagatorOptions) {
		o.names = names
	}
}

// WithRootSampler sets the sampler consulted for fallback roots.
// Defaults to parent-based always-on.
func WithRootSampler(s sdktrace.Sampler) PropagatorOption {
	return func(o *propagatorOptions) {
		o.sampler = s
	}
}

// WithRootIDGenerator sets the ID source for fallback roots.
func WithRootIDGenerator(g sdktrace.IDGenerator) PropagatorOption {
	return func(o *propagatorOptions) {
		o.ids = g
	}
}

// WithPropagatorDiagnostics sets where extraction recoveries are reported.
func WithPropagatorDiagnostics(d *Diagnostics) PropagatorOption {
	return func(o *propagatorOptions) {
		o.diag = d
	}
}

// NewPropagator creates a Propagator.
func NewPropagator(opts ...PropagatorOption) *Propagator {
	o := &propagatorOptions{}
	for _, opt := range opts {
		opt(o)
	}

	p := &Propagator{
		traceContext: true,
		baggage:      true,
		sampler:      o.sampler,
		ids:          o.ids,
		diag:         o.diag,
	}
	if p.sampler == nil {
		p.sampler = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	if p.ids == nil {
		p.ids = defaultIDs
	}

	if o.names != nil {
		p.traceContext, p.baggage = false, false
		for _, name := range o.names {
			name = strings.ToLower(strings.TrimSpace(name))
			switch name {
			case "tracecontext":
				p.traceContext = true
			case "baggage":
				p.baggage = true
			case "", "none":
			default:
				p.diag.Report(context.Background(),
					fmt.Errorf("hoptrace: unknown propagator %q in OTEL_PROPAGATORS, ignoring", name))
			}
		}
	}

	return p
}

// NewPropagatorFromConfig creates a Propagator from the propagation config.
// A nil config enables both formats.
func NewPropagatorFromConfig(cfg *PropConfig, opts ...PropagatorOption) *Propagator {
	if cfg != nil && cfg.Propagators != "" {
		opts = append([]PropagatorOption{WithPropagators(splitPropagators(cfg.Propagators)...)}, opts...)
	}

	return NewPropagator(opts...)
}

// Fields returns the carrier keys this Propagator writes.
func (p *Propagator) Fields() []string {
	var fields []string
	if p.traceContext {
		fields = append(fields, TraceparentHeader)
	}
	if p.baggage {
		fields = append(fields, BaggageHeader)
	}

	return fields
}

// Inject writes sc into carrier. Keys other than Fields are left untouched,
// and injecting the same context twice writes the same bytes. Invalid
// contexts produce no traceparent; empty baggage produces no baggage key.
func (p *Propagator) Inject(sc SpanContext, carrier Setter) {
	if carrier == nil {
		return
	}
	if p.traceContext && sc.IsValid() {
		carrier.Set(TraceparentHeader, formatTraceparent(sc))
	}
	if p.baggage && sc.baggage.Len() > 0 {
		carrier.Set(BaggageHeader, encodeBaggage(sc.baggage))
	}
}

// Extract reads a SpanContext from carrier. It never fails; see Propagator.
func (p *Propagator) Extract(carrier Getter) SpanContext {
	return p.extract(context.Background(), carrier)
}

func (p *Propagator) extract(ctx context.Context, carrier Getter) SpanContext {
	var (
		sc  SpanContext
		bag Baggage
	)

	if carrier != nil && p.traceContext {
		if vs := values(carrier, TraceparentHeader); len(vs) > 0 {
			parsed, err := parseTraceparent(strings.TrimSpace(vs[0]))
			if err != nil {
				p.diag.Report(ctx, fmt.Errorf("%w: %w", ErrMalformedCarrier, err))
			} else {
				sc = parsed
			}
		}
	}

	if carrier != nil && p.baggage {
		if vs := values(carrier, BaggageHeader); len(vs) > 0 {
			var dropped int
			bag, dropped = decodeBaggage(strings.Join(vs, ","))
			if dropped > 0 {
				p.diag.Report(ctx, fmt.Errorf("%w: dropped %d baggage member(s)", ErrMalformedCarrier, dropped))
			}
		}
	}

	if !sc.IsValid() {
		sc = p.newRoot()
	}
	sc.baggage = bag

	return sc
}

func (p *Propagator) newRoot() SpanContext {
	tid, sid := p.ids.NewIDs(context.Background())
	sampled := shouldSample(p.sampler, SpanContext{}, tid, "", trace.SpanKindInternal, nil)

	return newRoot(tid, sid, sampled)
}

// InjectContext injects the ambient SpanContext of ctx.
func (p *Propagator) InjectContext(ctx context.Context, carrier Setter) {
	p.Inject(SpanContextFromContext(ctx), carrier)
}

// ExtractContext extracts from carrier and returns ctx carrying the result
// as the ambient SpanContext.
func (p *Propagator) ExtractContext(ctx context.Context, carrier Getter) context.Context {
	return ContextWithSpanContext(ctx, p.extract(ctx, carrier))
}

// TextMapPropagator adapts p to the OpenTelemetry propagation API so that
// OTel instrumentation carries hoptrace contexts. Extracted remote contexts
// are also exposed to OTel as a remote span context.
func (p *Propagator) TextMapPropagator() propagation.TextMapPropagator {
	return textMapAdapter{p: p}
}

type textMapAdapter struct {
	p *Propagator
}

func (a textMapAdapter) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := SpanContextFromContext(ctx)
	if !sc.IsValid() {
		if osc := trace.SpanContextFromContext(ctx); osc.IsValid() {
			sc = SpanContext{traceID: osc.TraceID(), spanID: osc.SpanID(), flags: osc.TraceFlags(), baggage: sc.baggage}
		}
	}
	a.p.Inject(sc, carrier)
}

func (a textMapAdapter) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	sc := a.p.extract(ctx, carrier)
	ctx = ContextWithSpanContext(ctx, sc)
	if sc.IsRemote() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc.otel())
	}

	return ctx
}

func (a textMapAdapter) Fields() []string {
	return a.p.Fields()
}
