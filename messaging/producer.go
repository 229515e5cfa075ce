package messaging

import (
	"context"
	"fmt"

	"github.com/arloliu/hoptrace"
	"github.com/google/uuid"
)

// Producer sends envelopes through a Sender, each under its own producer
// span whose context travels in the envelope metadata.
type Producer struct {
	sender Sender
	tracer *hoptrace.Tracer
	prop   *hoptrace.Propagator
	opts   options
}

// NewProducer creates a Producer. If prop is nil, a propagator writing both
// traceparent and baggage is used.
//
// Panics if sender or tracer is nil.
func NewProducer(sender Sender, tracer *hoptrace.Tracer, prop *hoptrace.Propagator, opts ...Option) *Producer {
	if sender == nil {
		panic("hoptrace/messaging: Sender must not be nil")
	}
	if tracer == nil {
		panic("hoptrace/messaging: Tracer must not be nil")
	}
	if prop == nil {
		prop = hoptrace.NewPropagator(hoptrace.WithPropagatorDiagnostics(tracer.Diagnostics()))
	}
	o := applyOptions(opts)
	if o.idFunc == nil {
		o.idFunc = uuid.NewString
	}

	return &Producer{sender: sender, tracer: tracer, prop: prop, opts: o}
}

// Send wraps payload in a new envelope addressed to destination and sends
// it. The returned envelope carries the injected metadata.
func (p *Producer) Send(ctx context.Context, destination string, payload []byte) (*Envelope, error) {
	env := &Envelope{
		Destination: destination,
		Payload:     payload,
	}

	return env, p.SendEnvelope(ctx, env)
}

// SendEnvelope sends env under a producer span that is a child of the
// ambient context of ctx. Trace headers are written into env.Metadata;
// other metadata keys are left untouched. A missing ID is generated.
//
// The span ends when the broker has accepted (or refused) the envelope.
// Broker errors are recorded on the span and returned wrapped in ErrBroker.
func (p *Producer) SendEnvelope(ctx context.Context, env *Envelope) error {
	if env.ID == "" {
		env.ID = p.opts.idFunc()
	}
	if env.Metadata == nil {
		env.Metadata = make(map[string]string)
	}

	if p.opts.staticBaggage.Len() > 0 {
		ambient := hoptrace.SpanContextFromContext(ctx)
		ctx = hoptrace.ContextWithSpanContext(ctx, ambient.WithBaggageMembers(p.opts.staticBaggage))
	}

	ctx, span := p.tracer.StartProducer(ctx,
		hoptrace.NameMessaging(opSend, env.Destination),
		hoptrace.WithAttributes(sendAttributes(p.opts.system, env)...),
	)
	defer span.End()

	p.prop.Inject(span.Context(), hoptrace.MapCarrier(env.Metadata))

	if err := p.sender.Send(ctx, env); err != nil {
		span.RecordError(err)

		return fmt.Errorf("%w: send %s to %q: %w", ErrBroker, env.ID, env.Destination, err)
	}

	span.AddEvent("message sent", eventAttributes(env, p.opts.bodyLimit)...)

	return nil
}
