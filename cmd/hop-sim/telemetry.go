package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/hoptrace"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
)

// telemetry bundles what every mode needs to emit traces.
type telemetry struct {
	tracer *hoptrace.Tracer
	prop   *hoptrace.Propagator
	logger *zap.Logger

	loggerProvider *sdklog.LoggerProvider
}

// setupTelemetry builds the zap logger, the optional log provider and a
// tracer exporting through a batch processor.
func setupTelemetry(ctx context.Context, cfg *Config, opts ...hoptrace.TracerOption) (*telemetry, error) {
	tcfg := cfg.telemetryConfig()

	logger, err := hoptrace.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, err
	}
	t := &telemetry{logger: logger}

	diagOpts := []hoptrace.DiagnosticsOption{hoptrace.WithLogger(logger)}
	lp, err := hoptrace.NewLoggerProvider(ctx, tcfg)
	switch {
	case err == nil:
		t.loggerProvider = lp
		diagOpts = append(diagOpts, hoptrace.WithLoggerProvider(lp))
	case !errors.Is(err, hoptrace.ErrLogsDisabled):
		return nil, fmt.Errorf("failed to create logger provider: %w", err)
	}
	diag := hoptrace.NewDiagnostics(diagOpts...)

	opts = append([]hoptrace.TracerOption{hoptrace.WithDiagnostics(diag)}, opts...)
	t.tracer, err = hoptrace.NewTracerFromConfig(ctx, tcfg, opts...)
	if err != nil {
		t.shutdownLogs(ctx)
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	t.prop = hoptrace.NewPropagatorFromConfig(tcfg.Propagation, hoptrace.WithPropagatorDiagnostics(diag))

	return t, nil
}

// otelLogger returns the logger scenario log templates go to, or nil when
// log export is off.
func (t *telemetry) otelLogger() otellog.Logger {
	if t.loggerProvider == nil {
		return nil
	}

	return t.loggerProvider.Logger("hop-sim")
}

// shutdown flushes spans and log records.
func (t *telemetry) shutdown(ctx context.Context) error {
	err := t.tracer.Shutdown(ctx)
	t.shutdownLogs(ctx)
	_ = t.logger.Sync()

	return err
}

func (t *telemetry) shutdownLogs(ctx context.Context) {
	if t.loggerProvider == nil {
		return
	}
	if err := t.loggerProvider.Shutdown(ctx); err != nil {
		t.logger.Warn("log provider shutdown failed", zap.Error(err))
	}
}
