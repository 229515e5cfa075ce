package hoptrace

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the zap logger used for diagnostics and by the CLI.
// A nil config yields an info-level JSON logger on stderr.
func NewLogger(cfg *LoggingConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &LoggingConfig{Level: "info", Format: "json"}
	}

	var level zapcore.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("hoptrace: log level %q: %w", cfg.Level, err)
		}
	}

	console := cfg.Format == "console"
	encoder := zap.NewProductionEncoderConfig()
	encoding := "json"
	if console {
		encoder = zap.NewDevelopmentEncoderConfig()
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	}
	encoder.TimeKey = "ts"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       console,
		Encoding:          encoding,
		EncoderConfig:     encoder,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !console,
	}

	return zapCfg.Build()
}
