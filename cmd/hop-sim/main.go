// Package main provides the hop-sim CLI. It replays message-hop scenarios as
// traces and runs a NATS sender and receiver pair that carry trace context
// from an HTTP request through JetStream to the consumer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arloliu/hoptrace/cmd/hop-sim/engine"
	"github.com/arloliu/hoptrace/cmd/hop-sim/scenario"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	mode := os.Args[1]
	switch mode {
	case "quick":
		err = runQuickMode(os.Args[2:])
	case "run":
		err = runContinuousMode(os.Args[2:])
	case "send":
		err = runServiceMode("send", os.Args[2:], runSender)
	case "receive":
		err = runServiceMode("receive", os.Args[2:], runReceiver)
	case "list":
		listScenarios()
	case "-h", "--help", "help":
		printUsage()
	default:
		_, _ = fmt.Fprintf(os.Stderr, "Unknown mode: %s\n", mode)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hop-sim - message-hop trace simulator

Usage:
  hop-sim <mode> [flags]

Modes:
  quick    Send traces immediately for quick visualization
  run      Simulate real-world timing continuously
  send     Serve POST /send?message=... and publish each message to NATS
  receive  Consume the messages published by send
  list     List available scenarios

Common Flags:
  --endpoint     OTLP endpoint (default: localhost:4317)
  --http         Use HTTP instead of gRPC
  --insecure     Skip TLS verification (default: true)
  --exporter     otlp, console or none (default: otlp)
  --service-name Service name (default: hop-sim)
  --log-level    debug, info, warn or error (default: info)
  --logs         Export scenario logs as OTel log records

Quick Mode Flags:
  --scenario      Scenario name (default: payment)
  --scenario-file Custom YAML scenario file
  --count         Number of traces to send (default: 10)

Continuous Mode Flags:
  --scenario      Scenario name (default: payment)
  --scenario-file Custom YAML scenario file
  --duration      Total simulation time (default: 1m)
  --rate          Traces per second (default: 1)
  --jitter        Timing variation percentage (default: 20)

Send/Receive Flags:
  --nats-url     NATS server URL (default: nats://127.0.0.1:4222)
  --stream       JetStream stream (default: HOPS)
  --subject      Subject (default: hello)
  --listen       send: HTTP listen address (default: :8080)
  --durable      receive: durable consumer name (default: receiver)
  --concurrency  receive: messages processed at once (default: 1)

Environment Variables:
  OTEL_EXPORTER_OTLP_ENDPOINT   OTLP endpoint
  OTEL_EXPORTER_OTLP_INSECURE   Skip TLS verification
  OTEL_TRACES_EXPORTER          Span exporter
  OTEL_SERVICE_NAME             Service name
  NATS_URL                      NATS server URL

Examples:
  hop-sim quick --scenario payment --count 5
  hop-sim run --scenario edge-iot --duration 5m --rate 10
  hop-sim receive --service-name receiver
  hop-sim send --service-name sender --listen :8080
  hop-sim list`)
}

func runQuickMode(args []string) error {
	cfg := newConfig()
	cfg.applyEnvOverrides()
	fs := flag.NewFlagSet("quick", flag.ExitOnError)
	cfg.bindScenarioFlags(fs)
	fs.IntVar(&cfg.Count, "count", cfg.Count, "Number of traces to send")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return executeQuick(ctx, cfg)
}

func runContinuousMode(args []string) error {
	cfg := newConfig()
	cfg.applyEnvOverrides()
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfg.bindScenarioFlags(fs)
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Total simulation time")
	fs.Float64Var(&cfg.Rate, "rate", cfg.Rate, "Traces per second")
	fs.IntVar(&cfg.Jitter, "jitter", cfg.Jitter, "Timing variation percentage")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if cfg.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", cfg.Rate)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return executeContinuous(ctx, cfg)
}

// runServiceMode parses the NATS flags and runs fn until interrupted.
func runServiceMode(mode string, args []string, fn func(context.Context, *Config, *telemetry) error) error {
	cfg := newConfig()
	cfg.applyEnvOverrides()
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	cfg.bindNATSFlags(fs)
	switch mode {
	case "send":
		fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	case "receive":
		fs.StringVar(&cfg.Durable, "durable", cfg.Durable, "Durable consumer name")
		fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Messages processed at once")
	}

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tel, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(tel)

	return fn(ctx, cfg, tel)
}

func listScenarios() {
	fmt.Println("Available scenarios:")
	fmt.Println()
	for _, name := range scenario.List() {
		s, _ := scenario.Get(name)
		steps, hops := s.Stats()
		fmt.Printf("  %-10s %s\n", name, s.Description)
		fmt.Printf("  %-10s - %d services, %d steps, %d message hops\n", "", len(s.Services()), steps, hops)
		fmt.Println()
	}
}

// executeQuick sends traces immediately.
func executeQuick(ctx context.Context, cfg *Config) error {
	s, err := loadScenario(cfg)
	if err != nil {
		return err
	}

	tel, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(tel)

	// No jitter in quick mode
	eng := engine.New(tel.tracer, engine.WithPropagator(tel.prop), engine.WithLogger(tel.otelLogger()))
	defer func() { _ = eng.Close() }()

	fmt.Printf("Sending %d traces to %s (scenario: %s)\n", cfg.Count, cfg.Endpoint, s.Name)

	for i := range cfg.Count {
		select {
		case <-ctx.Done():
			fmt.Printf("\nInterrupted after %d traces\n", i)
			return nil
		default:
		}

		if err := eng.GenerateTrace(ctx, s); err != nil {
			return fmt.Errorf("failed to generate trace %d: %w", i+1, err)
		}
		fmt.Printf("Trace %d/%d sent\n", i+1, cfg.Count)
	}
	fmt.Println("Done!")

	return nil
}

// executeContinuous runs traces at a steady rate for a duration.
func executeContinuous(ctx context.Context, cfg *Config) error {
	s, err := loadScenario(cfg)
	if err != nil {
		return err
	}

	tel, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(tel)

	eng := engine.New(tel.tracer,
		engine.WithPropagator(tel.prop),
		engine.WithLogger(tel.otelLogger()),
		engine.WithJitter(cfg.Jitter),
	)
	defer func() { _ = eng.Close() }()

	fmt.Printf("Running %s scenario for %v at %.1f traces/sec\n", s.Name, cfg.Duration, cfg.Rate)

	interval := time.Duration(float64(time.Second) / cfg.Rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(cfg.Duration)
	traceCount := 0

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nInterrupted after %d traces\n", traceCount)
			return nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				fmt.Printf("\nCompleted: sent %d traces\n", traceCount)
				return nil
			}

			if err := eng.GenerateTrace(ctx, s); err != nil {
				tel.logger.Warn("failed to generate trace", zap.Error(err))
				continue
			}
			traceCount++
		}
	}
}

// shutdownTelemetry flushes with a fresh deadline so an interrupt still
// exports what was recorded.
func shutdownTelemetry(tel *telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := tel.shutdown(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: telemetry shutdown: %v\n", err)
	}
}

func loadScenario(cfg *Config) (*scenario.Scenario, error) {
	if cfg.ScenarioFile != "" {
		return scenario.LoadFromFile(cfg.ScenarioFile)
	}

	s, ok := scenario.Get(cfg.Scenario)
	if !ok {
		return nil, fmt.Errorf("unknown scenario: %s (use 'hop-sim list' to see available scenarios)", cfg.Scenario)
	}

	return s, nil
}
