package hoptrace

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/arloliu/hoptrace"

// Diagnostics is the single sink for tracing failures. Tracing never returns
// errors into business code; instead every recovered failure is reported here
// and fanned out to the zap logger, an optional OTel log bridge, the error
// handler, and the hoptrace.* metric counters.
//
// A nil *Diagnostics is valid and routes errors to otel.Handle.
type Diagnostics struct {
	logger     *zap.Logger
	otelLogger otellog.Logger
	handler    func(error)

	spansStarted   metric.Int64Counter
	spansEnded     metric.Int64Counter
	spansDropped   metric.Int64Counter
	spansExported  metric.Int64Counter
	exportFailures metric.Int64Counter
	spanMisuse     metric.Int64Counter
	fallbacks      metric.Int64Counter
}

// DiagnosticsOption configures Diagnostics.
type DiagnosticsOption func(*diagnosticsOptions)

type diagnosticsOptions struct {
	logger         *zap.Logger
	loggerProvider otellog.LoggerProvider
	meterProvider  metric.MeterProvider
	handler        func(error)
}

// WithLogger sets the zap logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.logger = l
	}
}

// WithLoggerProvider emits every report as an OTel log record as well.
func WithLoggerProvider(lp otellog.LoggerProvider) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.loggerProvider = lp
	}
}

// WithMeterProvider sets the meter provider for the hoptrace.* counters.
// If nil, the global MeterProvider is used.
func WithMeterProvider(mp metric.MeterProvider) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.meterProvider = mp
	}
}

// WithErrorHandler sets a callback invoked for every report.
// If nil, reports go to otel.Handle.
func WithErrorHandler(h func(error)) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.handler = h
	}
}

// NewDiagnostics creates a Diagnostics sink.
func NewDiagnostics(opts ...DiagnosticsOption) *Diagnostics {
	o := &diagnosticsOptions{}
	for _, opt := range opts {
		opt(o)
	}

	d := &Diagnostics{
		logger:  o.logger,
		handler: o.handler,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if o.loggerProvider != nil {
		d.otelLogger = o.loggerProvider.Logger(instrumentationName)
	}

	mp := o.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	d.spansStarted = counter(meter, "hoptrace.spans.started", "Spans started.", "{span}")
	d.spansEnded = counter(meter, "hoptrace.spans.ended", "Spans ended.", "{span}")
	d.spansDropped = counter(meter, "hoptrace.spans.dropped", "Finished spans dropped before export.", "{span}")
	d.spansExported = counter(meter, "hoptrace.spans.exported", "Spans handed to the exporter successfully.", "{span}")
	d.exportFailures = counter(meter, "hoptrace.export.failures", "Failed export calls.", "{call}")
	d.spanMisuse = counter(meter, "hoptrace.span.misuse", "Mutations or ends on already ended spans.", "{call}")
	d.fallbacks = counter(meter, "hoptrace.extract.fallbacks", "Extractions that recovered from a malformed carrier.", "{call}")

	return d
}

func counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		otel.Handle(err)
	}

	return c
}

// Logger returns the zap logger used for reports.
func (d *Diagnostics) Logger() *zap.Logger {
	if d == nil {
		return zap.NewNop()
	}

	return d.logger
}

// Report records a recovered tracing failure. It never blocks on I/O
// beyond what the configured logger and handler do.
func (d *Diagnostics) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if d == nil {
		otel.Handle(err)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.logger.Warn("tracing failure", zap.Error(err))

	if d.otelLogger != nil {
		var rec otellog.Record
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
		rec.SetBody(otellog.StringValue("tracing failure"))
		rec.AddAttributes(otellog.String("error", err.Error()))
		d.otelLogger.Emit(ctx, rec)
	}

	d.count(ctx, err)

	if d.handler != nil {
		d.handler(err)
	} else {
		otel.Handle(err)
	}
}

func (d *Diagnostics) count(ctx context.Context, err error) {
	switch {
	case errors.Is(err, ErrSpanMisuse):
		add(ctx, d.spanMisuse, 1)
	case errors.Is(err, ErrMalformedCarrier):
		add(ctx, d.fallbacks, 1)
	case errors.Is(err, ErrQueueFull):
		add(ctx, d.spansDropped, 1)
	case errors.Is(err, ErrExport):
		add(ctx, d.exportFailures, 1)
	}
}

func (d *Diagnostics) spanStarted(ctx context.Context) {
	if d != nil {
		add(ctx, d.spansStarted, 1)
	}
}

func (d *Diagnostics) spanEnded(ctx context.Context) {
	if d != nil {
		add(ctx, d.spansEnded, 1)
	}
}

func (d *Diagnostics) spansDroppedN(ctx context.Context, n int) {
	if d != nil {
		add(ctx, d.spansDropped, int64(n))
	}
}

func (d *Diagnostics) exported(ctx context.Context, n int) {
	if d != nil {
		add(ctx, d.spansExported, int64(n))
	}
}

func add(ctx context.Context, c metric.Int64Counter, n int64) {
	if c == nil || n == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.Add(ctx, n)
}
