// Package nats carries hoptrace contexts over NATS JetStream.
//
// [Broker] implements the messaging Sender, Receiver and Nacker interfaces
// on top of a JetStream publisher and a pull consumer, so the messaging
// Producer and Consumer run unchanged over NATS.
//
// # Producer
//
//	js, _ := jetstream.New(nc)
//	broker := nats.NewBroker(js)
//	producer := messaging.NewProducer(broker, tracer, prop,
//	    messaging.WithSystem(nats.System))
//	producer.Send(ctx, "orders.created", data)
//
// # Pull Consumer
//
//	cons, _ := stream.CreateOrUpdateConsumer(ctx, cfg)
//	broker := nats.NewBroker(js, nats.WithPuller(cons))
//	consumer := messaging.NewConsumer(broker, handleOrder, tracer, prop,
//	    messaging.WithSystem(nats.System), messaging.WithConcurrency(4))
//	err := consumer.Run(ctx)
//
// # Callback-Style Consumption
//
//	cc, _ := cons.Consume(nats.MessageHandler(consumer))
//	defer cc.Stop()
//
// # Raw Headers
//
// [InjectNATS] and [ExtractNATS] move a SpanContext in and out of
// nats.Header directly for code that publishes nats.Msg values itself.
//
// Envelope metadata maps one-to-one onto NATS headers and the envelope ID
// onto the Nats-Msg-Id header. Span names and attributes follow the
// OpenTelemetry messaging semantic conventions:
// https://opentelemetry.io/docs/specs/semconv/messaging/
package nats
