package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/hoptrace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Consumer receives deliveries and runs a Handler for each one under a
// consumer span that continues the producer's trace.
type Consumer struct {
	receiver Receiver
	handler  Handler
	tracer   *hoptrace.Tracer
	prop     *hoptrace.Propagator
	opts     options
}

// NewConsumer creates a Consumer. If prop is nil, a propagator reading both
// traceparent and baggage is used.
//
// Panics if receiver, handler or tracer is nil.
func NewConsumer(receiver Receiver, handler Handler, tracer *hoptrace.Tracer, prop *hoptrace.Propagator, opts ...Option) *Consumer {
	if receiver == nil {
		panic("hoptrace/messaging: Receiver must not be nil")
	}
	if handler == nil {
		panic("hoptrace/messaging: handler must not be nil")
	}
	if tracer == nil {
		panic("hoptrace/messaging: Tracer must not be nil")
	}
	if prop == nil {
		prop = hoptrace.NewPropagator(hoptrace.WithPropagatorDiagnostics(tracer.Diagnostics()))
	}

	return &Consumer{
		receiver: receiver,
		handler:  handler,
		tracer:   tracer,
		prop:     prop,
		opts:     applyOptions(opts),
	}
}

// Process handles a single delivery:
//
//   - the trace context is extracted from the envelope metadata
//   - a consumer span "process <destination>" starts as its child, or as a
//     new root keeping the baggage when nothing usable was propagated
//   - the handler runs with the span and the extracted baggage ambient
//   - on success the span gets a "message processed" event and the delivery
//     is acked; on failure the delivery is nacked if the receiver can
//
// The span ends whatever the ack outcome. Ack and nack failures are reported
// to the tracer's diagnostics and recorded as span events. A handler panic
// is recorded and re-raised once the span has ended.
//
// Process returns the handler's error.
func (c *Consumer) Process(ctx context.Context, d *Delivery) (err error) {
	env := &d.Envelope

	ctx = c.prop.ExtractContext(ctx, hoptrace.MapCarrier(env.Metadata))
	parent := hoptrace.SpanContextFromContext(ctx)

	attrs := processAttributes(c.opts.system, c.opts.group, d)
	if c.opts.baggageAttrs {
		for k, v := range parent.Baggage().All() {
			attrs = append(attrs, attribute.String(BaggageAttributePrefix+k, v))
		}
	}
	startOpts := []hoptrace.SpanStartOption{hoptrace.WithAttributes(attrs...)}
	if !parent.IsRemote() {
		startOpts = append(startOpts, hoptrace.WithNewRoot())
	}

	ctx, span := c.tracer.StartConsumer(ctx, hoptrace.NameMessaging(opProcess, env.Destination), startOpts...)

	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic in handler")
			span.End()
			panic(r)
		}
		span.End()
	}()

	if err = c.handler(ctx, env); err != nil {
		span.RecordError(err)
		c.nack(ctx, span, d)

		return err
	}

	span.AddEvent("message processed", eventAttributes(env, c.opts.bodyLimit)...)
	span.SetStatus(codes.Ok, "")

	if ackErr := c.receiver.Ack(ctx, d); ackErr != nil {
		c.brokerFailure(ctx, span, "ack failed", fmt.Errorf("%w: ack %s: %w", ErrBroker, env.ID, ackErr))
	}

	return nil
}

func (c *Consumer) nack(ctx context.Context, span *hoptrace.Span, d *Delivery) {
	n, ok := c.receiver.(Nacker)
	if !ok {
		return
	}
	if err := n.Nack(ctx, d); err != nil {
		c.brokerFailure(ctx, span, "nack failed", fmt.Errorf("%w: nack %s: %w", ErrBroker, d.Envelope.ID, err))
	}
}

func (c *Consumer) brokerFailure(ctx context.Context, span *hoptrace.Span, event string, err error) {
	span.AddEvent(event, attribute.String("exception.message", err.Error()))
	c.tracer.Diagnostics().Report(ctx, err)
}

// Run receives and processes deliveries until ctx is done or the receiver
// is closed, in which case it returns nil after in-flight deliveries finish.
// At most WithConcurrency deliveries are processed at once. In-flight
// handlers are not cancelled by ctx.
//
// Any other receive error stops the loop and is returned wrapped in
// ErrBroker.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.tracer.Diagnostics().Logger()
	processCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.opts.concurrency)

	var runErr error
	for {
		d, err := c.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrClosed) {
				runErr = fmt.Errorf("%w: receive: %w", ErrBroker, err)
			}

			break
		}

		g.Go(func() error {
			if err := c.Process(processCtx, d); err != nil {
				logger.Debug("message handler failed",
					zap.String("message.id", d.Envelope.ID),
					zap.String("destination", d.Envelope.Destination),
					zap.Int("attempt", d.Attempt),
					zap.Error(err),
				)
			}

			return nil
		})
	}

	_ = g.Wait()

	return runErr
}
