package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	if got := LogLevel(); got != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, want DEBUG", got)
	}

	t.Setenv("LOG_LEVEL", "bogus")
	if got := LogLevel(); got != slog.LevelInfo {
		t.Errorf("LogLevel() = %v, want INFO", got)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), WithTraceID(logger, "t-1"))
	WithAction(FromContext(ctx, nil), "user.create").Info("done")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["trace_id"] != "t-1" || rec["action"] != "user.create" {
		t.Errorf("unexpected record: %v", rec)
	}

	if FromContext(context.Background(), nil) != slog.Default() {
		t.Error("FromContext without logger should return default")
	}
	if FromContext(context.Background(), logger) != logger {
		t.Error("FromContext without logger should return fallback")
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown", "job_id", "j1")

	out := buf.String()
	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Errorf("info record must be filtered: %q", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("job_id=j1")) {
		t.Errorf("expected text record, got %q", out)
	}
}
