package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// ParseLevel / NewLogger
// ---------------------------------------------------------------------------

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_JSONFormat_ProducesValidJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", "info")
	logger.Info("catalog refreshed", "categories", 3)

	line := strings.TrimSpace(buf.String())
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, line)
	}
	if obj["msg"] != "catalog refreshed" {
		t.Errorf("msg = %v, want %q", obj["msg"], "catalog refreshed")
	}
	if obj["categories"] != float64(3) {
		t.Errorf("categories = %v, want 3", obj["categories"])
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "text", "info")
	logger.Info("hello", "tool", "foo-bar")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "tool=foo-bar") {
		t.Errorf("text output = %q", out)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", "warn")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn record missing: %s", buf.String())
	}
}

func TestSetupLogger_DoesNotPanic(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		for _, level := range []string{"debug", "info", "bogus"} {
			SetupLogger(format, level)
		}
	}
	SetupLogger("text", "error")
}

// ---------------------------------------------------------------------------
// Context logger
// ---------------------------------------------------------------------------

func TestLogger_FromContext(t *testing.T) {
	var buf bytes.Buffer
	scoped := NewLogger(&buf, "json", "info").With("request_id", "abc")
	ctx := WithLogger(context.Background(), scoped)

	Logger(ctx).Info("handled")
	if !strings.Contains(buf.String(), `"request_id":"abc"`) {
		t.Errorf("scoped logger not used: %s", buf.String())
	}
}

func TestLogger_FallsBackToDefault(t *testing.T) {
	if Logger(context.Background()) != slog.Default() {
		t.Error("Logger() without scoped logger should return slog.Default()")
	}
}
