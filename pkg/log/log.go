// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used across marketd. Key-value pairs
// follow the zap sugared convention.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Sync() error
}

type zapLogger struct {
	log *zap.SugaredLogger
}

// New creates a new logger at info level.
func New() Logger {
	return NewWithLevel("info")
}

// NewWithLevel creates a new logger with a specific level.
func NewWithLevel(level string) Logger {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		return &noOpLogger{}
	}

	return &zapLogger{log: log.Sugar()}
}

// NewLogger creates a named logger at info level.
func NewLogger(name string) Logger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		return &noOpLogger{}
	}

	return &zapLogger{log: log.Named(name).Sugar()}
}

// NoOp returns a no-op logger.
func NoOp() Logger {
	return &noOpLogger{}
}

// NoLog is a no-op logger instance.
var NoLog = NoOp()

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l *zapLogger) Sync() error {
	return l.log.Sync()
}

// noOpLogger is a logger that does nothing.
type noOpLogger struct{}

func (n *noOpLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *noOpLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *noOpLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (n *noOpLogger) Error(msg string, keysAndValues ...interface{}) {}
func (n *noOpLogger) Sync() error                                    { return nil }
