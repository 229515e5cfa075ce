package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arloliu/hoptrace"
	hoptracehttp "github.com/arloliu/hoptrace/http"
	"github.com/arloliu/hoptrace/messaging"
	hoptracenats "github.com/arloliu/hoptrace/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// senderBaggageKey and senderBaggageValue mark every message the sender
// produces.
const (
	senderBaggageKey   = "Sent by"
	senderBaggageValue = "AsyncApp.Sender"
)

// eventBodyLimit is how much of each message body the send and receive
// events record.
const eventBodyLimit = 256

// newSendHandler serves POST /send?message=... by sending the message to
// subject and answering 202 Accepted.
func newSendHandler(producer *messaging.Producer, subject string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", func(w http.ResponseWriter, r *http.Request) {
		message := r.URL.Query().Get("message")
		if message == "" {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}

		env, err := producer.Send(r.Context(), subject, []byte(message))
		if err != nil {
			logger.Error("send failed", zap.String("subject", subject), zap.Error(err))
			http.Error(w, "send failed", http.StatusBadGateway)

			return
		}

		hoptrace.AddEvent(r.Context(), "message accepted")
		logger.Info("message sent",
			zap.String("message.id", env.ID),
			zap.String("subject", subject),
			zap.String("trace_id", hoptrace.TraceID(r.Context())),
		)
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}

// newSenderProducer returns a producer stamping the sender baggage on every
// message.
func newSenderProducer(sender messaging.Sender, tel *telemetry) *messaging.Producer {
	return messaging.NewProducer(sender, tel.tracer, tel.prop,
		messaging.WithSystem(hoptracenats.System),
		messaging.WithStaticBaggage(senderBaggageKey, senderBaggageValue),
		messaging.WithBodyInEvents(eventBodyLimit),
	)
}

// connectJetStream connects to NATS and makes sure the stream for subject
// exists.
func connectJetStream(ctx context.Context, cfg *Config) (*nats.Conn, jetstream.JetStream, jetstream.Stream, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
	})
	if err != nil {
		nc.Close()
		return nil, nil, nil, fmt.Errorf("failed to create stream %q: %w", cfg.Stream, err)
	}

	return nc, js, stream, nil
}

// runSender serves the send endpoint until ctx is done.
func runSender(ctx context.Context, cfg *Config, tel *telemetry) error {
	nc, js, _, err := connectJetStream(ctx, cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	producer := newSenderProducer(hoptracenats.NewBroker(js), tel)
	handler := hoptracehttp.Handler(newSendHandler(producer, cfg.Subject, tel.logger), "POST /send", tel.tracer, tel.prop)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	tel.logger.Info("sender listening", zap.String("addr", cfg.Listen), zap.String("subject", cfg.Subject))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
