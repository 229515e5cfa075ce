package hoptrace

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// sequenceIDs hands out predictable, increasing IDs.
type sequenceIDs struct {
	mu   sync.Mutex
	next uint64
}

func (g *sequenceIDs) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	g.mu.Lock()
	g.next++
	var tid trace.TraceID
	binary.BigEndian.PutUint64(tid[8:], g.next)
	g.mu.Unlock()

	return tid, g.NewSpanID(ctx, tid)
}

func (g *sequenceIDs) NewSpanID(context.Context, trace.TraceID) trace.SpanID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next++
	var sid trace.SpanID
	binary.BigEndian.PutUint64(sid[:], g.next)

	return sid
}

// recordingExporter keeps every exported span.
type recordingExporter struct {
	mu        sync.Mutex
	spans     []FinishedSpan
	batches   int
	err       error
	block     chan struct{}
	shutdowns int
}

func (e *recordingExporter) Export(ctx context.Context, spans []FinishedSpan) error {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.batches++
	if e.err != nil {
		return e.err
	}
	e.spans = append(e.spans, spans...)

	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns++

	return nil
}

func (e *recordingExporter) Spans() []FinishedSpan {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]FinishedSpan, len(e.spans))
	copy(out, e.spans)

	return out
}

func (e *recordingExporter) Batches() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.batches
}

// newObservedDiagnostics returns Diagnostics whose reports land in the
// returned observer and error slice.
func newObservedDiagnostics(t *testing.T) (*Diagnostics, *observer.ObservedLogs, func() []error) {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	var (
		mu   sync.Mutex
		errs []error
	)
	d := NewDiagnostics(
		WithLogger(zap.New(core)),
		WithErrorHandler(func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}),
	)

	return d, logs, func() []error {
		mu.Lock()
		defer mu.Unlock()

		return append([]error(nil), errs...)
	}
}

// newTestTracer returns a tracer that exports synchronously into exp.
func newTestTracer(t *testing.T, opts ...TracerOption) (*Tracer, *recordingExporter) {
	t.Helper()

	exp := &recordingExporter{}
	base := []TracerOption{
		WithProcessor(NewSimpleProcessor(exp, nil)),
		WithIDGenerator(&sequenceIDs{}),
	}

	return NewTracer("test", append(base, opts...)...), exp
}

func mustTraceID(t *testing.T, s string) trace.TraceID {
	t.Helper()
	id, err := trace.TraceIDFromHex(s)
	if err != nil {
		t.Fatal(err)
	}

	return id
}

func mustSpanID(t *testing.T, s string) trace.SpanID {
	t.Helper()
	id, err := trace.SpanIDFromHex(s)
	if err != nil {
		t.Fatal(err)
	}

	return id
}
