package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"uptrend-engine/internal/model"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Reader provides read-only access to SQLite for bars, positions, levels
// and the regime journal.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	log.Info().Str("component", "sqlite-reader").Str("path", dbPath).Msg("opened database")
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

func scanBars(rows *sql.Rows) ([]model.Bar, error) {
	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&b.Token, &b.Exchange, &b.TF, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadBars reads bars for a given exchange:token and TF with ts > afterTS.
// Results are ordered by timestamp ascending.
func (r *Reader) ReadBars(ctx context.Context, exchange, token string, tf int, afterTS int64) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, exchange, tf, ts, open, high, low, close, volume
		FROM bars
		WHERE exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, token, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()
	return scanBars(rows)
}

// ReadLastBars reads the most recent n bars, ordered by timestamp ascending.
func (r *Reader) ReadLastBars(ctx context.Context, exchange, token string, tf int, n int) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, exchange, tf, ts, open, high, low, close, volume FROM (
			SELECT token, exchange, tf, ts, open, high, low, close, volume
			FROM bars
			WHERE exchange = ? AND token = ? AND tf = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, exchange, token, tf, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query last bars: %w", err)
	}
	defer rows.Close()
	return scanBars(rows)
}

// ListPositions returns the active tracked positions.
func (r *Reader) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT exchange, token, tf, trading_symbol, active
		FROM positions
		WHERE active = 1
		ORDER BY exchange, token, tf
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var active int
		if err := rows.Scan(&p.Exchange, &p.Token, &p.TF, &p.TradingSymbol, &active); err != nil {
			return nil, fmt.Errorf("sqlite scan positions: %w", err)
		}
		p.Active = active == 1
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReadPosition returns one tracked position, active or not.
func (r *Reader) ReadPosition(ctx context.Context, exchange, token string, tf int) (model.Position, error) {
	var p model.Position
	var active int
	err := r.db.QueryRowContext(ctx, `
		SELECT exchange, token, tf, trading_symbol, active
		FROM positions
		WHERE exchange = ? AND token = ? AND tf = ?
	`, exchange, token, tf).Scan(&p.Exchange, &p.Token, &p.TF, &p.TradingSymbol, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("sqlite query position: %w", err)
	}
	p.Active = active == 1
	return p, nil
}

// ReadLevels returns the S/R levels of an instrument ordered by price.
func (r *Reader) ReadLevels(ctx context.Context, exchange, token string) ([]model.SRLevel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT exchange, token, price, strength
		FROM sr_levels
		WHERE exchange = ? AND token = ?
		ORDER BY price ASC
	`, exchange, token)
	if err != nil {
		return nil, fmt.Errorf("sqlite query levels: %w", err)
	}
	defer rows.Close()

	var out []model.SRLevel
	for rows.Next() {
		var lv model.SRLevel
		if err := rows.Scan(&lv.Exchange, &lv.Token, &lv.Price, &lv.Strength); err != nil {
			return nil, fmt.Errorf("sqlite scan levels: %w", err)
		}
		out = append(out, lv)
	}
	return out, rows.Err()
}

// JournalEntry is one stored payload.
type JournalEntry struct {
	ID      int64     `json:"id"`
	TS      time.Time `json:"ts"`
	State   string    `json:"state"`
	Payload []byte    `json:"-"`
}

// ReadJournal returns up to limit journal entries for an instrument/TF,
// newest first.
func (r *Reader) ReadJournal(ctx context.Context, exchange, token string, tf, limit int) ([]JournalEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ts, state, payload
		FROM regime_journal
		WHERE exchange = ? AND token = ? AND tf = ?
		ORDER BY id DESC
		LIMIT ?
	`, exchange, token, tf, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var tsUnix int64
		var payload string
		if err := rows.Scan(&e.ID, &tsUnix, &e.State, &payload); err != nil {
			return nil, fmt.Errorf("sqlite scan journal: %w", err)
		}
		e.TS = time.Unix(tsUnix, 0).UTC()
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
