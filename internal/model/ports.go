package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the sweep from concrete storage implementations
// (Redis, SQLite, Kafka). Each implementation satisfies one or more of them.

// BarReader reads closed bars for backfill and EDX history.
type BarReader interface {
	// ReadBars returns bars for one instrument and TF with ts > afterTS,
	// ordered by timestamp ascending.
	ReadBars(ctx context.Context, exchange, token string, tf int, afterTS int64) ([]Bar, error)

	// ReadLastBars returns the most recent n bars, ordered ascending.
	ReadLastBars(ctx context.Context, exchange, token string, tf int, n int) ([]Bar, error)
}

// PositionLister lists the positions tracked by the sweep.
type PositionLister interface {
	ListPositions(ctx context.Context) ([]Position, error)
}

// LevelReader reads support/resistance levels for an instrument.
type LevelReader interface {
	ReadLevels(ctx context.Context, exchange, token string) ([]SRLevel, error)
}

// StateStore reads and writes the previous regime payload and meta as raw JSON.
// Using []byte avoids a model→regime→model import cycle.
type StateStore interface {
	// LoadState returns the stored payload and meta JSON for a position.
	// Missing entries are returned as nil slices with a nil error.
	LoadState(ctx context.Context, regimeKey string) (payload, meta []byte, err error)

	// SaveState persists payload and meta JSON for a position.
	SaveState(ctx context.Context, regimeKey string, payload, meta []byte) error
}

// JournalWriter appends evaluated payloads to an audit journal.
type JournalWriter interface {
	AppendJournal(ctx context.Context, p Position, ts time.Time, state string, payload []byte) error
}

// EventPublisher publishes regime events for the external decision layer.
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}
