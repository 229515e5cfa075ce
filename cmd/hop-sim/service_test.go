package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/arloliu/hoptrace"
	hoptracehttp "github.com/arloliu/hoptrace/http"
	"github.com/arloliu/hoptrace/messaging"
	"github.com/arloliu/hoptrace/messaging/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type spanRecorder struct {
	mu    sync.Mutex
	spans []hoptrace.FinishedSpan
}

func (r *spanRecorder) Export(_ context.Context, spans []hoptrace.FinishedSpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, spans...)

	return nil
}

func (r *spanRecorder) Shutdown(context.Context) error { return nil }

func (r *spanRecorder) byKind(kind trace.SpanKind) []hoptrace.FinishedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []hoptrace.FinishedSpan
	for _, s := range r.spans {
		if s.Kind == kind {
			out = append(out, s)
		}
	}

	return out
}

func newTestTelemetry(t *testing.T) (*telemetry, *spanRecorder, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.InfoLevel)
	rec := &spanRecorder{}
	tracer := hoptrace.NewTracer("hop-sim-test", hoptrace.WithProcessor(hoptrace.NewSimpleProcessor(rec, nil)))
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	return &telemetry{
		tracer: tracer,
		prop:   hoptrace.NewPropagator(),
		logger: zap.New(core),
	}, rec, logs
}

func TestSendHandler(t *testing.T) {
	tel, _, _ := newTestTelemetry(t)
	broker := mem.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })
	handler := newSendHandler(newSenderProducer(broker, tel), "hello", tel.logger)

	tests := []struct {
		name    string
		method  string
		target  string
		status  int
		pending int
	}{
		{"accepted", http.MethodPost, "/send?message=Hi", http.StatusAccepted, 1},
		{"missing message", http.MethodPost, "/send", http.StatusBadRequest, 0},
		{"wrong method", http.MethodGet, "/send?message=Hi", http.StatusMethodNotAllowed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := broker.Queue("hello")
			before := q.Pending()

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.target, nil))

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, before+tt.pending, q.Pending())
		})
	}
}

func TestSendHandler_BrokerFailure(t *testing.T) {
	tel, _, logs := newTestTelemetry(t)
	broker := mem.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })
	broker.FailSends(errors.New("connection reset"))

	rr := httptest.NewRecorder()
	newSendHandler(newSenderProducer(broker, tel), "hello", tel.logger).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/send?message=Hi", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, 1, logs.FilterMessage("send failed").Len())
}

func TestSenderToReceiver(t *testing.T) {
	tel, rec, logs := newTestTelemetry(t)
	broker := mem.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })

	cfg := newConfig()
	handler := hoptracehttp.Handler(newSendHandler(newSenderProducer(broker, tel), cfg.Subject, tel.logger),
		"POST /send", tel.tracer, tel.prop)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/send?message=Hello%20World", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)

	q := broker.Queue(cfg.Subject)
	d, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, newReceiverConsumer(q, cfg, tel).Process(context.Background(), d))
	assert.Zero(t, q.Unacked())

	received := logs.FilterMessage("message received").All()
	require.Len(t, received, 1)
	fields := received[0].ContextMap()
	assert.Equal(t, "Hello World", fields["body"])
	assert.Equal(t, senderBaggageValue, fields["sent_by"])

	servers := rec.byKind(trace.SpanKindServer)
	producers := rec.byKind(trace.SpanKindProducer)
	consumers := rec.byKind(trace.SpanKindConsumer)
	require.Len(t, servers, 1)
	require.Len(t, producers, 1)
	require.Len(t, consumers, 1)

	assert.Equal(t, servers[0].SpanID(), producers[0].ParentSpanID())
	assert.Equal(t, producers[0].SpanID(), consumers[0].ParentSpanID())
	assert.Equal(t, servers[0].TraceID().String(), fields["trace_id"])
	assert.Equal(t, "process hello", consumers[0].Name)

	sentBy, ok := consumers[0].Attribute(messaging.BaggageAttributePrefix + senderBaggageKey)
	require.True(t, ok)
	assert.Equal(t, senderBaggageValue, sentBy.AsString())

	assert.Equal(t, "Hello World", eventBody(t, producers[0]))
	assert.Equal(t, "Hello World", eventBody(t, consumers[0]))
}

// eventBody returns the message body recorded on the span's first event.
func eventBody(t *testing.T, s hoptrace.FinishedSpan) string {
	t.Helper()
	require.NotEmpty(t, s.Events, s.Name)
	for _, kv := range s.Events[0].Attributes {
		if string(kv.Key) == messaging.AttrMessagingMessageBody {
			return kv.Value.AsString()
		}
	}

	return ""
}

func TestSetupTelemetry(t *testing.T) {
	cfg := newConfig()
	cfg.Exporter = "none"
	cfg.EnableLogs = true

	tel, err := setupTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tel.tracer)
	require.NotNil(t, tel.prop)
	assert.NotNil(t, tel.otelLogger())

	_, span := tel.tracer.Start(context.Background(), "probe")
	span.End()
	require.NoError(t, tel.shutdown(context.Background()))
}

func TestSetupTelemetry_LogsDisabled(t *testing.T) {
	cfg := newConfig()
	cfg.Exporter = "none"

	tel, err := setupTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, tel.otelLogger())
	require.NoError(t, tel.shutdown(context.Background()))
}
