// Package engine replays scenarios as real traces. Message hops go through
// a messaging Producer and Consumer over an in-memory broker, so every hop
// exercises the same inject and extract path a deployed service uses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/hoptrace"
	"github.com/arloliu/hoptrace/cmd/hop-sim/scenario"
	"github.com/arloliu/hoptrace/messaging"
	"github.com/arloliu/hoptrace/messaging/mem"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

// System is the messaging.system attribute of simulated hops.
const System = "hop-sim"

// AttrService names the simulated service a span belongs to.
const AttrService = attribute.Key("sim.service")

// ErrSimulated marks a failure injected by a step's error rate.
var ErrSimulated = errors.New("simulated failure")

// Engine generates traces from scenarios.
type Engine struct {
	tracer   *hoptrace.Tracer
	broker   *mem.Broker
	producer *messaging.Producer
	prop     *hoptrace.Propagator
	logger   otellog.Logger

	jitterPct int
	sleep     func(time.Duration)
	random    func() float64

	runMu     sync.Mutex
	mu        sync.Mutex
	consumers map[string]*messaging.Consumer
	pending   sync.Map // envelope ID -> *scenario.Step
}

// Option configures an Engine.
type Option func(*Engine)

// WithJitter varies step durations by up to pct percent.
func WithJitter(pct int) Option {
	return func(e *Engine) {
		e.jitterPct = pct
	}
}

// WithLogger emits the scenarios' log templates through l.
func WithLogger(l otellog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithPropagator sets the propagator used across hops.
func WithPropagator(p *hoptrace.Propagator) Option {
	return func(e *Engine) {
		e.prop = p
	}
}

// WithSleep replaces time.Sleep for simulated step durations.
func WithSleep(f func(time.Duration)) Option {
	return func(e *Engine) {
		e.sleep = f
	}
}

// WithRandom replaces the source used for error injection and jitter.
// f must return values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(e *Engine) {
		e.random = f
	}
}

// New creates an Engine recording spans with tracer.
//
// Panics if tracer is nil.
func New(tracer *hoptrace.Tracer, opts ...Option) *Engine {
	if tracer == nil {
		panic("hop-sim: Tracer must not be nil")
	}

	e := &Engine{
		tracer:    tracer,
		broker:    mem.NewBroker(),
		sleep:     time.Sleep,
		random:    rand.Float64, //nolint:gosec // weak rand is fine for simulation
		consumers: make(map[string]*messaging.Consumer),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prop == nil {
		e.prop = hoptrace.NewPropagator(hoptrace.WithPropagatorDiagnostics(tracer.Diagnostics()))
	}
	e.producer = messaging.NewProducer(e.broker, tracer, e.prop, messaging.WithSystem(System))

	return e
}

// Close releases the in-memory broker.
func (e *Engine) Close() error {
	return e.broker.Close()
}

// GenerateTrace replays s once as a new trace. Calls are serialized since
// hops share the broker queues.
func (e *Engine) GenerateTrace(ctx context.Context, s *scenario.Scenario) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	ctx = hoptrace.ContextWithSpanContext(ctx, hoptrace.SpanContext{})
	ctx = withBaggage(ctx, s.Baggage)

	err := e.run(ctx, &s.Root)
	if errors.Is(err, ErrSimulated) {
		return nil
	}

	return err
}

func (e *Engine) run(ctx context.Context, step *scenario.Step) error {
	if step.IsHop() {
		return e.deliver(ctx, step)
	}

	return e.execute(ctx, step, toSpanKind(step.Kind))
}

// execute runs a step under its own span. It returns ErrSimulated when the
// step itself failed; failures of children only mark their own spans.
func (e *Engine) execute(ctx context.Context, step *scenario.Step, kind trace.SpanKind) error {
	attrs := append(parseAttributes(step.Attributes), AttrService.String(step.Service))
	ctx, span := e.tracer.Start(ctx, step.Name,
		hoptrace.WithSpanKind(kind),
		hoptrace.WithAttributes(attrs...),
	)
	defer span.End()

	ctx = withBaggage(ctx, step.Baggage)
	e.emitLogs(ctx, step.Logs)

	for i := range step.Children {
		if err := e.run(ctx, &step.Children[i]); err != nil && !errors.Is(err, ErrSimulated) {
			span.RecordError(err)
			return err
		}
	}

	e.sleep(e.applyJitter(step.Duration.AsDuration()))

	if step.ErrorRate > 0 && e.random() < step.ErrorRate {
		err := fmt.Errorf("%w: %s", ErrSimulated, step.ErrorStatus)
		span.RecordError(err)

		return err
	}

	return nil
}

// deliver sends step as a message and processes it until it succeeds or
// runs out of attempts.
func (e *Engine) deliver(ctx context.Context, step *scenario.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	consumer := e.consumer(step.Destination)
	queue := e.broker.Queue(step.Destination)

	env, err := e.producer.Send(ctx, step.Destination, []byte(step.Name))
	if err != nil {
		return err
	}
	// Nothing receives from the queue before the loop below.
	e.pending.Store(env.ID, step)
	defer e.pending.Delete(env.ID)

	for {
		d, err := queue.Receive(ctx)
		if err != nil {
			return err
		}

		err = consumer.Process(ctx, d)
		if err == nil || d.Attempt >= step.Attempts() {
			return err
		}
	}
}

// consumer returns the consumer for destination, creating it on first use.
func (e *Engine) consumer(destination string) *messaging.Consumer {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.consumers[destination]; ok {
		return c
	}
	c := messaging.NewConsumer(&hopQueue{Queue: e.broker.Queue(destination), engine: e}, e.handle, e.tracer, e.prop,
		messaging.WithSystem(System),
		messaging.WithConsumerGroup(destination),
	)
	e.consumers[destination] = c

	return c
}

func (e *Engine) handle(ctx context.Context, env *messaging.Envelope) error {
	step, ok := e.step(env.ID)
	if !ok {
		return fmt.Errorf("no step for message %q", env.ID)
	}

	return e.execute(ctx, step, trace.SpanKindInternal)
}

func (e *Engine) step(id string) (*scenario.Step, bool) {
	v, ok := e.pending.Load(id)
	if !ok {
		return nil, false
	}

	return v.(*scenario.Step), true
}

// hopQueue drops a message instead of requeueing it once its step has used
// up its attempts.
type hopQueue struct {
	*mem.Queue
	engine *Engine
}

func (q *hopQueue) Nack(ctx context.Context, d *messaging.Delivery) error {
	if step, ok := q.engine.step(d.Envelope.ID); ok && d.Attempt < step.Attempts() {
		return q.Queue.Nack(ctx, d)
	}

	return q.Queue.Ack(ctx, d)
}

func (e *Engine) emitLogs(ctx context.Context, logs []scenario.LogTemplate) {
	if e.logger == nil {
		return
	}

	for _, l := range logs {
		var rec otellog.Record
		rec.SetTimestamp(time.Now())
		rec.SetBody(otellog.StringValue(l.Message))
		rec.SetSeverity(toLogSeverity(l.Level))
		rec.SetSeverityText(l.Level)

		attrs := make([]otellog.KeyValue, 0, len(l.Attributes)+2)
		for k, v := range l.Attributes {
			attrs = append(attrs, otellog.String(k, v))
		}
		attrs = append(attrs,
			otellog.String("trace_id", hoptrace.TraceID(ctx)),
			otellog.String("span_id", hoptrace.SpanID(ctx)),
		)
		rec.AddAttributes(attrs...)

		e.logger.Emit(ctx, rec)
	}
}

// applyJitter varies d by up to jitterPct percent either way.
func (e *Engine) applyJitter(d time.Duration) time.Duration {
	if e.jitterPct <= 0 {
		return d
	}
	jitter := float64(d) * float64(e.jitterPct) / 100.0
	offset := (e.random() * 2 * jitter) - jitter

	return d + time.Duration(offset)
}

func withBaggage(ctx context.Context, kv map[string]string) context.Context {
	for k, v := range kv {
		ctx = hoptrace.MustSetBaggage(ctx, k, v)
	}

	return ctx
}

func toSpanKind(k scenario.SpanKind) trace.SpanKind {
	switch k {
	case scenario.SpanKindServer:
		return trace.SpanKindServer
	case scenario.SpanKindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

func toLogSeverity(level string) otellog.Severity {
	switch level {
	case "DEBUG":
		return otellog.SeverityDebug
	case "WARN":
		return otellog.SeverityWarn
	case "ERROR":
		return otellog.SeverityError
	default:
		return otellog.SeverityInfo
	}
}

// parseAttributes converts a string map to attributes, inferring int, float
// and bool values.
func parseAttributes(attrs map[string]string) []attribute.KeyValue {
	result := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			result = append(result, attribute.Int64(k, i))
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			result = append(result, attribute.Float64(k, f))
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			result = append(result, attribute.Bool(k, b))
			continue
		}
		result = append(result, attribute.String(k, v))
	}

	return result
}
