package hoptrace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Processor receives finished spans from a Tracer.
//
// OnEnd is called from whichever goroutine ended the span and must not block.
type Processor interface {
	OnEnd(span FinishedSpan)
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Exporter sends finished spans to a tracing backend.
type Exporter interface {
	Export(ctx context.Context, spans []FinishedSpan) error
	Shutdown(ctx context.Context) error
}

const (
	DefaultMaxQueueSize       = 2048
	DefaultMaxExportBatchSize = 512
	DefaultBatchTimeout       = 5 * time.Second
	DefaultExportTimeout      = 30 * time.Second
)

// BatchOption configures a BatchProcessor.
type BatchOption func(*batchOptions)

type batchOptions struct {
	maxQueueSize       int
	maxExportBatchSize int
	batchTimeout       time.Duration
	exportTimeout      time.Duration
	diag               *Diagnostics
}

// WithMaxQueueSize sets how many finished spans may wait for export.
// Spans arriving at a full queue are dropped.
func WithMaxQueueSize(n int) BatchOption {
	return func(o *batchOptions) {
		if n > 0 {
			o.maxQueueSize = n
		}
	}
}

// WithMaxExportBatchSize sets the largest batch handed to the exporter.
func WithMaxExportBatchSize(n int) BatchOption {
	return func(o *batchOptions) {
		if n > 0 {
			o.maxExportBatchSize = n
		}
	}
}

// WithBatchTimeout sets the longest time a span waits before a partial
// batch is exported.
func WithBatchTimeout(d time.Duration) BatchOption {
	return func(o *batchOptions) {
		if d > 0 {
			o.batchTimeout = d
		}
	}
}

// WithExportTimeout bounds each Export call.
func WithExportTimeout(d time.Duration) BatchOption {
	return func(o *batchOptions) {
		if d > 0 {
			o.exportTimeout = d
		}
	}
}

// WithBatchDiagnostics sets where dropped spans and export failures are
// reported.
func WithBatchDiagnostics(d *Diagnostics) BatchOption {
	return func(o *batchOptions) {
		o.diag = d
	}
}

// BatchProcessor exports finished spans in batches through the OTel SDK
// batch span processor. Enqueueing never blocks: once maxQueueSize spans
// wait for export, further spans are dropped and ErrQueueFull is reported.
// A failed export is reported as ErrExport and its batch is discarded, never
// retried.
type BatchProcessor struct {
	bsp      sdktrace.SpanProcessor
	exporter *spanExporter
	opts     batchOptions

	pending atomic.Int64
	closed  atomic.Bool
}

var _ Processor = (*BatchProcessor)(nil)

// NewBatchProcessor creates a BatchProcessor and starts its export loop.
func NewBatchProcessor(exporter Exporter, opts ...BatchOption) *BatchProcessor {
	o := batchOptions{
		maxQueueSize:       DefaultMaxQueueSize,
		maxExportBatchSize: DefaultMaxExportBatchSize,
		batchTimeout:       DefaultBatchTimeout,
		exportTimeout:      DefaultExportTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxExportBatchSize > o.maxQueueSize {
		o.maxExportBatchSize = o.maxQueueSize
	}

	p := &BatchProcessor{opts: o}
	p.exporter = newSpanExporter(exporter, o.diag)
	p.exporter.taken = func(n int) { p.pending.Add(-int64(n)) }
	p.bsp = sdktrace.NewBatchSpanProcessor(p.exporter,
		sdktrace.WithMaxQueueSize(o.maxQueueSize),
		sdktrace.WithMaxExportBatchSize(o.maxExportBatchSize),
		sdktrace.WithBatchTimeout(o.batchTimeout),
		sdktrace.WithExportTimeout(o.exportTimeout),
	)

	return p
}

// OnEnd enqueues span for export without blocking.
func (p *BatchProcessor) OnEnd(span FinishedSpan) {
	ctx := context.Background()
	if p.closed.Load() {
		p.opts.diag.spansDroppedN(ctx, 1)
		return
	}
	// The SDK processor only exports sampled spans.
	if !span.Context.IsSampled() {
		return
	}

	// Counting every span not yet handed to the exporter keeps the SDK queue
	// from ever filling, so no span is dropped without a report.
	if p.pending.Add(1) > int64(p.opts.maxQueueSize) {
		p.pending.Add(-1)
		p.opts.diag.Report(ctx,
			fmt.Errorf("%w: dropped span %q (%s)", ErrQueueFull, span.Name, span.SpanID()))

		return
	}
	p.bsp.OnEnd(p.exporter.readOnly(span))
}

// ForceFlush exports every queued span and waits for the export to finish.
func (p *BatchProcessor) ForceFlush(ctx context.Context) error {
	if p.closed.Load() {
		return nil
	}

	return p.bsp.ForceFlush(ctx)
}

// Shutdown exports what is still queued, stops the loop and shuts down the
// exporter. Only the first call has an effect.
func (p *BatchProcessor) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.bsp.Shutdown(ctx); err != nil {
		return err
	}

	return p.exporter.shutdownError()
}

// SimpleProcessor exports every span synchronously inside OnEnd through the
// OTel SDK simple span processor. It blocks the caller for the duration of
// the export and is meant for tests and debugging only.
type SimpleProcessor struct {
	ssp sdktrace.SpanProcessor
	exp *spanExporter
}

var _ Processor = (*SimpleProcessor)(nil)

// NewSimpleProcessor creates a SimpleProcessor. d may be nil.
func NewSimpleProcessor(exporter Exporter, d *Diagnostics) *SimpleProcessor {
	exp := newSpanExporter(exporter, d)

	return &SimpleProcessor{ssp: sdktrace.NewSimpleSpanProcessor(exp), exp: exp}
}

// OnEnd exports span immediately.
func (p *SimpleProcessor) OnEnd(span FinishedSpan) {
	p.ssp.OnEnd(p.exp.readOnly(span))
}

// ForceFlush is a no-op; nothing is buffered.
func (p *SimpleProcessor) ForceFlush(ctx context.Context) error {
	return p.ssp.ForceFlush(ctx)
}

// Shutdown shuts down the exporter once.
func (p *SimpleProcessor) Shutdown(ctx context.Context) error {
	return p.ssp.Shutdown(ctx)
}

// finishedReadOnly carries a FinishedSpan through the SDK processors.
type finishedReadOnly struct {
	sdktrace.ReadOnlySpan

	span FinishedSpan
}

// spanExporter adapts an Exporter to sdktrace.SpanExporter and reports every
// export's outcome to diagnostics. Failures are reported, not returned, so
// the SDK processors drop the batch without retrying.
type spanExporter struct {
	exporter Exporter
	otel     *otelExporter
	res      *resource.Resource
	diag     *Diagnostics
	taken    func(n int)

	mu          sync.Mutex
	shutdownErr error
}

var _ sdktrace.SpanExporter = (*spanExporter)(nil)

func newSpanExporter(exporter Exporter, d *Diagnostics) *spanExporter {
	e := &spanExporter{exporter: exporter, res: resource.Empty(), diag: d}
	if oe, ok := exporter.(*otelExporter); ok {
		e.otel = oe
		e.res = oe.res
	}

	return e
}

func (e *spanExporter) readOnly(span FinishedSpan) sdktrace.ReadOnlySpan {
	return &finishedReadOnly{ReadOnlySpan: readOnlySpan(span, e.res), span: span}
}

func (e *spanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.taken != nil {
		e.taken(len(spans))
	}

	var err error
	if e.otel != nil {
		err = e.otel.exporter.ExportSpans(ctx, spans)
	} else {
		batch := make([]FinishedSpan, 0, len(spans))
		for _, s := range spans {
			if f, ok := s.(*finishedReadOnly); ok {
				batch = append(batch, f.span)
			}
		}
		err = e.exporter.Export(ctx, batch)
	}

	if err != nil {
		e.diag.Report(ctx, fmt.Errorf("%w: %d span(s): %w", ErrExport, len(spans), err))
		return nil
	}
	e.diag.exported(ctx, len(spans))

	return nil
}

func (e *spanExporter) Shutdown(ctx context.Context) error {
	err := e.exporter.Shutdown(ctx)
	if err != nil {
		err = fmt.Errorf("hoptrace: shutdown exporter: %w", err)
	}

	e.mu.Lock()
	e.shutdownErr = err
	e.mu.Unlock()

	return err
}

func (e *spanExporter) shutdownError() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.shutdownErr
}
