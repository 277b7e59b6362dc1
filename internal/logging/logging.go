// Package logging builds the zap loggers used across tailnode.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rmacdonaldsmith/tailnode/pkg/engine"
)

// New returns a logger at level ("debug", "info", "warn", "error") using
// format "console" or "json". Empty values mean info and console.
func New(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Logf adapts l to the engine's printf-style sink. Engine output is
// chatty, so it is logged at debug level under the "engine" name.
func Logf(l *zap.Logger) engine.Logf {
	if l == nil {
		return engine.Discard
	}
	sugar := l.Named("engine").WithOptions(zap.AddCallerSkip(1)).Sugar()
	return func(format string, args ...any) {
		sugar.Debugf(strings.TrimRight(format, "\n"), args...)
	}
}
