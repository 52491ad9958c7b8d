// Package logger provides structured, leveled logging for the vMCP aggregator.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

// Initialize sets up the global logger from the LOG_LEVEL environment variable.
// Safe to call more than once; the most recent call wins.
func Initialize() {
	InitializeWithLevel(os.Getenv("LOG_LEVEL"))
}

// InitializeWithLevel sets up the global logger at the given level
// (debug|info|warn|error, case-insensitive; defaults to info).
func InitializeWithLevel(level string) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panicking on init.
		l = zap.NewNop()
	}

	mu.Lock()
	log = l.Sugar()
	mu.Unlock()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Initialize()
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Debugf logs at debug level.
func Debugf(template string, args ...any) { current().Debugf(template, args...) }

// Infof logs at info level.
func Infof(template string, args ...any) { current().Infof(template, args...) }

// Warnf logs at warn level.
func Warnf(template string, args ...any) { current().Warnf(template, args...) }

// Errorf logs at error level.
func Errorf(template string, args ...any) { current().Errorf(template, args...) }

// Info logs a plain message at info level.
func Info(msg string) { current().Info(msg) }

// Warn logs a plain message at warn level.
func Warn(msg string) { current().Warn(msg) }

// Error logs a plain message at error level.
func Error(msg string) { current().Error(msg) }

// With returns a child logger with the given structured key/value pairs attached.
func With(args ...any) *zap.SugaredLogger { return current().With(args...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error { return current().Sync() }
