package main

import (
	"flag"
	"time"

	"github.com/arloliu/fuda"
	"github.com/arloliu/hoptrace"
)

// Config holds all CLI configuration.
// Uses fuda struct tags for defaults and env var binding.
type Config struct {
	// Export settings
	Endpoint    string `yaml:"endpoint" default:"localhost:4317" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	UseHTTP     bool   `yaml:"http" default:"false"`
	Insecure    *bool  `yaml:"insecure" default:"true" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName string `yaml:"serviceName" default:"hop-sim" env:"OTEL_SERVICE_NAME"`
	Exporter    string `yaml:"exporter" default:"otlp" env:"OTEL_TRACES_EXPORTER"`
	LogLevel    string `yaml:"logLevel" default:"info" env:"HOPTRACE_LOG_LEVEL"`

	// Scenario settings
	Scenario     string `yaml:"scenario" default:"payment"`
	ScenarioFile string `yaml:"scenarioFile"`

	// Signals
	EnableLogs bool `yaml:"logs" default:"false"`

	// Quick mode
	Count int `yaml:"count" default:"10"`

	// Continuous mode
	Duration time.Duration `yaml:"duration" default:"1m"`
	Rate     float64       `yaml:"rate" default:"1"`
	Jitter   int           `yaml:"jitter" default:"20"`

	// Send and receive modes
	NATSURL     string `yaml:"natsURL" default:"nats://127.0.0.1:4222" env:"NATS_URL"`
	Stream      string `yaml:"stream" default:"HOPS"`
	Subject     string `yaml:"subject" default:"hello"`
	Durable     string `yaml:"durable" default:"receiver"`
	Listen      string `yaml:"listen" default:":8080"`
	Concurrency int    `yaml:"concurrency" default:"1"`
}

// IsInsecure returns the insecure value, defaulting to true if nil.
func (c *Config) IsInsecure() bool {
	if c.Insecure == nil {
		return true
	}

	return *c.Insecure
}

func newConfig() *Config {
	cfg := &Config{}
	_ = fuda.SetDefaults(cfg)

	return cfg
}

// bindExportFlags registers the flags every mode shares.
func (c *Config) bindExportFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "OTLP endpoint")
	fs.BoolVar(&c.UseHTTP, "http", c.UseHTTP, "Use HTTP instead of gRPC")
	fs.Func("insecure", "Skip TLS verification (default: true)", func(s string) error {
		val := s == "true" || s == "1"
		c.Insecure = &val

		return nil
	})
	fs.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	fs.StringVar(&c.Exporter, "exporter", c.Exporter, "Span exporter: otlp, console or none")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn or error")
	fs.BoolVar(&c.EnableLogs, "logs", c.EnableLogs, "Enable log generation")
}

// bindScenarioFlags registers the flags of the simulation modes.
func (c *Config) bindScenarioFlags(fs *flag.FlagSet) {
	c.bindExportFlags(fs)
	fs.StringVar(&c.Scenario, "scenario", c.Scenario, "Scenario name")
	fs.StringVar(&c.ScenarioFile, "scenario-file", c.ScenarioFile, "Custom YAML scenario file")
}

// bindNATSFlags registers the flags of the send and receive modes.
func (c *Config) bindNATSFlags(fs *flag.FlagSet) {
	c.bindExportFlags(fs)
	fs.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server URL")
	fs.StringVar(&c.Stream, "stream", c.Stream, "JetStream stream name")
	fs.StringVar(&c.Subject, "subject", c.Subject, "Subject messages are sent to")
}

// applyEnvOverrides reads env vars based on struct tags. It runs before the
// flags are parsed so flags win.
func (c *Config) applyEnvOverrides() {
	_ = fuda.LoadEnv(c)
}

// telemetryConfig maps the CLI flags onto a hoptrace.Config. Every span is
// sampled.
func (c *Config) telemetryConfig() *hoptrace.Config {
	protocol := "grpc"
	if c.UseHTTP {
		protocol = "http/protobuf"
	}
	insecure := c.IsInsecure()
	enabled := true
	logsEnabled := c.EnableLogs

	return &hoptrace.Config{
		Enabled:     &enabled,
		ServiceName: c.ServiceName,
		Environment: "simulation",
		OTLP: &hoptrace.OTLPConfig{
			Endpoint: c.Endpoint,
			Insecure: &insecure,
			Protocol: protocol,
			Timeout:  10 * time.Second,
		},
		Traces: &hoptrace.TracesConfig{
			Enabled:  &enabled,
			Exporter: c.Exporter,
			Sampling: &hoptrace.SamplingConfig{Sampler: "always_on", SamplerArg: 1},
		},
		Logs: &hoptrace.LogsConfig{
			Enabled:  &logsEnabled,
			Exporter: c.Exporter,
		},
		Propagation: &hoptrace.PropConfig{Propagators: "tracecontext,baggage"},
		Logging:     &hoptrace.LoggingConfig{Level: c.LogLevel, Format: "console"},
	}
}
