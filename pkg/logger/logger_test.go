package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  zapcore.Level
	}{
		{"debug lowercase", "debug", zapcore.DebugLevel},
		{"debug mixed case", "DeBuG", zapcore.DebugLevel},
		{"warn", "warn", zapcore.WarnLevel},
		{"warning alias", "warning", zapcore.WarnLevel},
		{"error", "error", zapcore.ErrorLevel},
		{"empty defaults to info", "", zapcore.InfoLevel},
		{"unknown defaults to info", "trace", zapcore.InfoLevel},
		{"whitespace trimmed", "  debug  ", zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestInitializeWithLevel_DoesNotPanicAndIsUsable(t *testing.T) {
	InitializeWithLevel("debug")
	assert.NotNil(t, current())

	Debugf("debug %s", "message")
	Infof("info %s", "message")
	Warnf("warn %s", "message")
	Errorf("error %s", "message")
	Info("plain info")
	Warn("plain warn")
	Error("plain error")
}

func TestCurrent_InitializesLazily(t *testing.T) {
	mu.Lock()
	log = nil
	mu.Unlock()

	assert.NotNil(t, current())
}
