package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestInitWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := InitWriter(&buf, "test-service", "debug", "json")
	l.Info().Str("k", "v").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["service"] != "test-service" {
		t.Errorf("service = %v, want test-service", line["service"])
	}
	if line["message"] != "hello" {
		t.Errorf("message = %v, want hello", line["message"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"":      zerolog.InfoLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := InitWriter(&buf, "svc", "warn", "json")
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No run ID set
	if rid := RunID(ctx); rid != "" {
		t.Errorf("expected empty run id, got %q", rid)
	}

	ctx = WithRunID(ctx, "cron-123")
	if rid := RunID(ctx); rid != "cron-123" {
		t.Errorf("expected 'cron-123', got %q", rid)
	}
}

func TestGenerateRunID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	rid := GenerateRunID("cron", ts)

	if !strings.HasPrefix(rid, "cron-") {
		t.Errorf("expected run id to start with 'cron-', got %s", rid)
	}
	if !strings.Contains(rid, "123456789") {
		t.Errorf("expected run id to contain nanoseconds, got %s", rid)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	l := FromContext(context.Background(), base)
	l.Info().Msg("a")
	if strings.Contains(buf.String(), "run_id") {
		t.Errorf("unexpected run_id without context value: %s", buf.String())
	}

	buf.Reset()
	ctx := WithRunID(context.Background(), "abc-123")
	l = FromContext(ctx, base)
	l.Info().Msg("b")
	if !strings.Contains(buf.String(), `"run_id":"abc-123"`) {
		t.Errorf("expected run_id in output, got %s", buf.String())
	}
}
