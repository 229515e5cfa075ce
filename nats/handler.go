package nats

import (
	"context"

	"github.com/arloliu/hoptrace/messaging"
	"github.com/nats-io/nats.go/jetstream"
)

// MessageHandler adapts a messaging.Consumer to callback-style consumption
// with jetstream.Consumer.Consume. Each message is processed with
// Consumer.Process, which extracts the trace context from the headers and
// starts the consumer span.
//
// The consumer must be built over a Broker (or another receiver that acks
// deliveries whose Handle is a jetstream.Msg).
//
// Panics if c is nil.
//
// Example:
//
//	broker := nats.NewBroker(js)
//	consumer := messaging.NewConsumer(broker, handleOrder, tracer, prop,
//	    messaging.WithSystem(nats.System))
//	cc, err := jsConsumer.Consume(nats.MessageHandler(consumer))
func MessageHandler(c *messaging.Consumer) jetstream.MessageHandler {
	if c == nil {
		panic("hoptrace/nats: Consumer must not be nil")
	}

	return func(msg jetstream.Msg) {
		_ = c.Process(context.Background(), toDelivery(msg))
	}
}
