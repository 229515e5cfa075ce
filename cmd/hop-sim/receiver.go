package main

import (
	"context"
	"fmt"

	"github.com/arloliu/hoptrace"
	"github.com/arloliu/hoptrace/messaging"
	hoptracenats "github.com/arloliu/hoptrace/nats"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// newReceiveHandler logs every message with the baggage that arrived with it.
func newReceiveHandler(logger *zap.Logger) messaging.Handler {
	return func(ctx context.Context, env *messaging.Envelope) error {
		logger.Info("message received",
			zap.String("message.id", env.ID),
			zap.String("subject", env.Destination),
			zap.ByteString("body", env.Payload),
			zap.String("sent_by", hoptrace.GetBaggage(ctx, senderBaggageKey)),
			zap.String("trace_id", hoptrace.TraceID(ctx)),
		)

		return nil
	}
}

// newReceiverConsumer returns a consumer that copies baggage onto its spans.
func newReceiverConsumer(receiver messaging.Receiver, cfg *Config, tel *telemetry) *messaging.Consumer {
	return messaging.NewConsumer(receiver, newReceiveHandler(tel.logger), tel.tracer, tel.prop,
		messaging.WithSystem(hoptracenats.System),
		messaging.WithConsumerGroup(cfg.Durable),
		messaging.WithBaggageAttributes(true),
		messaging.WithConcurrency(cfg.Concurrency),
		messaging.WithBodyInEvents(eventBodyLimit),
	)
}

// runReceiver processes messages until ctx is done, then waits for the
// in-flight ones.
func runReceiver(ctx context.Context, cfg *Config, tel *telemetry) error {
	nc, js, stream, err := connectJetStream(ctx, cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %q: %w", cfg.Durable, err)
	}

	broker := hoptracenats.NewBroker(js, hoptracenats.WithPuller(cons))
	tel.logger.Info("receiver started", zap.String("subject", cfg.Subject), zap.String("durable", cfg.Durable))

	if err := newReceiverConsumer(broker, cfg, tel).Run(ctx); err != nil {
		return err
	}
	tel.logger.Info("receiver stopped")

	return nil
}
