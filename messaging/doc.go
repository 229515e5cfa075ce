// Package messaging implements the producer/consumer correlation protocol on
// top of any broker that can send an envelope and hand it back later.
//
// A [Producer] starts a producer span, writes its context and baggage into
// the envelope metadata and sends the envelope. A [Consumer] extracts that
// context from the delivered envelope, starts a consumer span as its child,
// runs the [Handler] and acknowledges the delivery. The two spans are never
// the same span: the producer span ends when the broker accepted the message,
// the consumer span when processing finished.
//
// Brokers plug in through three narrow interfaces:
//
//	type Sender interface {
//	    Send(ctx context.Context, env *Envelope) error
//	}
//	type Receiver interface {
//	    Receive(ctx context.Context) (*Delivery, error)
//	    Ack(ctx context.Context, d *Delivery) error
//	}
//	type Nacker interface { // optional
//	    Nack(ctx context.Context, d *Delivery) error
//	}
//
// The mem sub-package provides an in-memory at-least-once broker; the nats
// package provides one over JetStream.
//
// # Example
//
//	producer := messaging.NewProducer(broker, tracer, prop,
//	    messaging.WithStaticBaggage("Sent by", "orders-api"))
//	if _, err := producer.Send(ctx, "orders", payload); err != nil {
//	    return err
//	}
//
//	consumer := messaging.NewConsumer(broker.Queue("orders"), handleOrder, tracer, prop,
//	    messaging.WithConcurrency(8))
//	err := consumer.Run(ctx)
//
// Redelivered messages are processed again under a new consumer span with
// the same parent; the attempt number is recorded as
// messaging.delivery.attempt.
package messaging
