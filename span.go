package hoptrace

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TruncatedKey marks spans that were force-ended by Tracer.Shutdown.
const TruncatedKey = attribute.Key("hoptrace.truncated")

// truncatedDescription is the status description of force-ended spans.
const truncatedDescription = "span truncated: tracer shutdown"

// Status is the outcome of a span.
type Status struct {
	Code        codes.Code
	Description string
}

// Event is a timestamped annotation on a span.
type Event struct {
	Name       string
	Time       time.Time
	Attributes []attribute.KeyValue
}

// FinishedSpan is the read-only record of an ended span handed to a
// Processor. It shares no memory with the Span it was taken from.
type FinishedSpan struct {
	Context    SpanContext
	Name       string
	Kind       trace.SpanKind
	StartTime  time.Time
	EndTime    time.Time
	Attributes []attribute.KeyValue
	Events     []Event
	Status     Status
	// Scope is the instrumentation scope, the name the Tracer was created with.
	Scope string
}

// TraceID returns the trace ID of the span.
func (fs FinishedSpan) TraceID() trace.TraceID { return fs.Context.TraceID() }

// SpanID returns the span ID of the span.
func (fs FinishedSpan) SpanID() trace.SpanID { return fs.Context.SpanID() }

// ParentSpanID returns the parent span ID, zero for roots.
func (fs FinishedSpan) ParentSpanID() trace.SpanID { return fs.Context.ParentSpanID() }

// Attribute returns the value recorded for key.
func (fs FinishedSpan) Attribute(key attribute.Key) (attribute.Value, bool) {
	for _, kv := range fs.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}

	return attribute.Value{}, false
}

// Span records one unit of work. It moves from recording to ended exactly
// once, in End. After that every mutator reports ErrSpanMisuse to the
// tracer's Diagnostics and leaves the finished record untouched.
//
// A Span is owned by the goroutine that started it. The internal lock only
// exists so Tracer.Shutdown can end it from elsewhere. All methods are safe
// on a nil *Span.
type Span struct {
	tracer *Tracer

	mu         sync.Mutex
	sc         SpanContext
	name       string
	kind       trace.SpanKind
	start      time.Time
	end        time.Time
	attrs      []attribute.KeyValue
	events     []Event
	status     Status
	ended      bool
	truncated  bool
	registered bool
}

// EndOption configures Span.End.
type EndOption func(*endConfig)

type endConfig struct {
	timestamp time.Time
}

// WithEndTime sets an explicit end timestamp.
func WithEndTime(t time.Time) EndOption {
	return func(c *endConfig) {
		c.timestamp = t
	}
}

// Context returns the span's own SpanContext. It is available before End,
// so a producer can inject the span that represents the send.
func (s *Span) Context() SpanContext {
	if s == nil {
		return SpanContext{}
	}

	return s.sc
}

// Name returns the span name.
func (s *Span) Name() string {
	if s == nil {
		return ""
	}

	return s.name
}

// Kind returns the span kind.
func (s *Span) Kind() trace.SpanKind {
	if s == nil {
		return trace.SpanKindUnspecified
	}

	return s.kind
}

// IsRecording reports whether the span has not ended yet.
func (s *Span) IsRecording() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.ended
}

// SetAttributes records attributes. A key written twice keeps its first
// position and its last value.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	if !s.lockRecording("SetAttributes") {
		return
	}
	defer s.mu.Unlock()
	s.setAttributesLocked(attrs)
}

func (s *Span) setAttributesLocked(attrs []attribute.KeyValue) {
	for _, kv := range attrs {
		if !kv.Valid() {
			continue
		}
		if i := slices.IndexFunc(s.attrs, func(e attribute.KeyValue) bool { return e.Key == kv.Key }); i >= 0 {
			s.attrs[i] = kv
			continue
		}
		s.attrs = append(s.attrs, kv)
	}
}

// AddEvent appends an event timestamped now.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	if !s.lockRecording("AddEvent") {
		return
	}
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Name: name, Time: s.tracer.now(), Attributes: slices.Clone(attrs)})
}

// SetStatus sets the span outcome. Unset is ignored, Ok is final, and the
// description is kept only for Error.
func (s *Span) SetStatus(code codes.Code, description string) {
	if s == nil {
		return
	}
	if !s.lockRecording("SetStatus") {
		return
	}
	defer s.mu.Unlock()
	s.setStatusLocked(code, description)
}

func (s *Span) setStatusLocked(code codes.Code, description string) {
	if code == codes.Unset || s.status.Code == codes.Ok {
		return
	}
	if code != codes.Error {
		description = ""
	}
	s.status = Status{Code: code, Description: description}
}

// RecordError adds an "exception" event for err and sets status Error.
// A nil error is ignored.
func (s *Span) RecordError(err error, attrs ...attribute.KeyValue) {
	if s == nil || err == nil {
		return
	}
	if !s.lockRecording("RecordError") {
		return
	}
	defer s.mu.Unlock()

	eventAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	eventAttrs = append(eventAttrs,
		attribute.String("exception.type", errorType(err)),
		attribute.String("exception.message", err.Error()),
	)
	eventAttrs = append(eventAttrs, attrs...)
	s.events = append(s.events, Event{Name: "exception", Time: s.tracer.now(), Attributes: eventAttrs})
	s.setStatusLocked(codes.Error, err.Error())
}

func errorType(err error) string {
	t := reflect.TypeOf(err)
	if t.PkgPath() == "" && t.Name() == "" {
		return t.String()
	}

	return t.PkgPath() + "." + t.Name()
}

// End stamps the end time, freezes the record and hands it to the tracer's
// processor when the span is sampled. Calling End twice reports misuse.
func (s *Span) End(opts ...EndOption) {
	if s == nil {
		return
	}

	cfg := endConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !s.lockRecording("End") {
		return
	}
	if cfg.timestamp.IsZero() {
		cfg.timestamp = s.tracer.now()
	}
	fs := s.finishLocked(cfg.timestamp)
	s.mu.Unlock()

	s.tracer.finish(s, fs)
}

// truncate force-ends a span that is still recording. It reports whether
// the span was ended by this call.
func (s *Span) truncate() (FinishedSpan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return FinishedSpan{}, false
	}
	s.truncated = true
	s.setAttributesLocked([]attribute.KeyValue{TruncatedKey.Bool(true)})
	s.status = Status{Code: codes.Error, Description: truncatedDescription}

	return s.finishLocked(s.tracer.now()), true
}

func (s *Span) finishLocked(end time.Time) FinishedSpan {
	s.ended = true
	s.end = end

	events := make([]Event, len(s.events))
	for i, e := range s.events {
		events[i] = Event{Name: e.Name, Time: e.Time, Attributes: slices.Clone(e.Attributes)}
	}

	return FinishedSpan{
		Context:    s.sc,
		Name:       s.name,
		Kind:       s.kind,
		StartTime:  s.start,
		EndTime:    s.end,
		Attributes: slices.Clone(s.attrs),
		Events:     events,
		Status:     s.status,
		Scope:      s.tracer.name,
	}
}

// lockRecording takes the span lock if the span is still recording.
// Otherwise it reports misuse without holding the lock and returns false.
// Spans truncated by shutdown ignore late calls from their owner.
func (s *Span) lockRecording(op string) bool {
	s.mu.Lock()
	if !s.ended {
		return true
	}
	truncated := s.truncated
	s.mu.Unlock()
	if !truncated {
		s.misuse(op)
	}

	return false
}

func (s *Span) misuse(op string) {
	s.tracer.diag.Report(context.Background(),
		fmt.Errorf("%w: %s on span %q (%s)", ErrSpanMisuse, op, s.name, s.sc.spanID))
}
