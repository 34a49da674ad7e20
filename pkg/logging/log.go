// Package logging builds the zap loggers used by redstream and carries them
// through contexts.
package logging

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvDebug switches the default logger to development mode when "true".
const EnvDebug = "REDSTREAM_DEBUG"

// NewLogger returns the default logger: production JSON output, or the
// development console encoder when REDSTREAM_DEBUG=true.
func NewLogger() *zap.SugaredLogger {
	level, format := "info", "json"
	if debug, ok := os.LookupEnv(EnvDebug); ok && debug == "true" {
		level, format = "debug", "console"
	}
	logger, err := NewLoggerWithLevel(level, format)
	if err != nil {
		panic(err)
	}
	return logger
}

// NewLoggerWithLevel builds a logger for the given level (debug, info,
// warn, error) and format (json or console), writing to stderr so that
// command output on stdout stays machine readable.
func NewLoggerWithLevel(level, format string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var config zap.Config
	switch format {
	case "console":
		config = zap.NewDevelopmentConfig()
	case "json", "":
		config = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.OutputPaths = []string{"stderr"}
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("redstream").Sugar(), nil
}

type loggerKey struct{}

// WithLogger returns a copy of parent context in which the
// value associated with logger key is the supplied logger.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger in the context.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
		return logger
	}
	return NewLogger()
}
