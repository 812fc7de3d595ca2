package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/regelwerk/internal/config"
	"github.com/pitabwire/regelwerk/model"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Sync()

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
		})
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
}

func TestRequestLogger_enrichesWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	rctx := &model.RequestContext{
		UserID:        "user-42",
		Language:      model.LanguageFR,
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	}
	ctx := model.WithRequestContext(context.Background(), rctx)
	ctx = WithLogger(ctx, logger)

	RequestLogger(ctx, logger).Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	checks := map[string]string{
		"user_id":        "user-42",
		"language":       "fr",
		"correlation_id": "corr-abc",
		"trace_id":       "trace-xyz",
		"msg":            "test message",
		"level":          "info",
	}
	for key, want := range checks {
		got, ok := entry[key].(string)
		if !ok {
			t.Errorf("missing field %q in log entry", key)
			continue
		}
		if got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestRequestLogger_defaultsActor(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{CorrelationID: "c"})
	RequestLogger(ctx, logger).Info("anonymous")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["user_id"] != "system" {
		t.Errorf("user_id = %v, want system", entry["user_id"])
	}
	if _, exists := entry["trace_id"]; exists {
		t.Error("trace_id should not be present when empty")
	}
}

func TestRequestLogger_noRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	RequestLogger(context.Background(), logger).Info("no context")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["msg"] != "no context" {
		t.Errorf("msg = %q, want no context", entry["msg"])
	}
	if _, exists := entry["user_id"]; exists {
		t.Error("user_id should not be present without RequestContext")
	}
}
