// Package hdtlog wraps zap with the level vocabulary the -log flag exposes
// (error, warn, info, debug, trace).
package hdtlog

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one step below zapcore.DebugLevel; zap has no native
// trace level of its own.
const TraceLevel = zapcore.DebugLevel - 1

// ParseLevel maps a `-log LEVEL` argument (or the `-v` alias for "trace")
// to a zapcore.Level.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return zapcore.ErrorLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "trace":
		return TraceLevel, nil
	default:
		return 0, fmt.Errorf("hdtlog: unrecognised log level %q (want error|warn|info|debug|trace)", name)
	}
}

// New builds a zap.Logger writing to stderr at the given level, using a
// console encoder for human-facing CLI output.
func New(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("hdtlog: building logger: %w", err)
	}
	return logger, nil
}

// Trace logs at TraceLevel; zap has no built-in Logger.Trace method.
func Trace(l *zap.Logger, msg string, fields ...zap.Field) {
	if ce := l.Check(TraceLevel, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Must is a small helper for top-level CLI bootstrap where a logger
// construction failure should abort the process immediately.
func Must(logger *zap.Logger, err error) *zap.Logger {
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(3)
	}
	return logger
}
