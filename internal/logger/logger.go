// Package logger configures structured logging with zerolog.
// It sets up a JSON (or console) writer with service-level context and
// provides run ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const runIDKey ctxKey = "run_id"

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Init configures the global logger for the given service and returns it.
// format "console" selects a human-readable writer; anything else is JSON.
func Init(service, level, format string) zerolog.Logger {
	return InitWriter(os.Stdout, service, level, format)
}

// InitWriter is Init with an explicit output.
func InitWriter(w io.Writer, service, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	l := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	// Set as global so log.Info() etc. also carry the service field
	log.Logger = l
	return l
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// WithRunID stores a run ID in the context for downstream propagation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID extracts the run ID from context. Returns "" if not set.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateRunID creates a run ID from a trigger name and timestamp.
// Format: "{trigger}-{unixNano}".
func GenerateRunID(trigger string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", trigger, ts.UnixNano())
}

// FromContext returns l with the context's run ID attached, if any.
func FromContext(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	rid := RunID(ctx)
	if rid == "" {
		return l
	}
	return l.With().Str("run_id", rid).Logger()
}
