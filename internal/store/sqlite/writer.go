package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"uptrend-engine/internal/model"
)

const (
	defaultBatchSize   = 500
	defaultFlushDelay  = 200 * time.Millisecond
	defaultJournalKeep = 500
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath      string // path to SQLite database file, e.g. "data/regime.db"
	JournalKeep int    // journal rows kept per instrument/TF (default 500)
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db          *sql.DB
	journalKeep int
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	keep := cfg.JournalKeep
	if keep <= 0 {
		keep = defaultJournalKeep
	}

	log.Info().Str("component", "sqlite").Str("path", cfg.DBPath).Msg("opened database")
	return &Writer{db: db, journalKeep: keep}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			token    TEXT    NOT NULL,
			exchange TEXT    NOT NULL,
			tf       INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (exchange, token, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS positions (
			exchange       TEXT    NOT NULL,
			token          TEXT    NOT NULL,
			tf             INTEGER NOT NULL,
			trading_symbol TEXT    NOT NULL DEFAULT '',
			active         INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (exchange, token, tf)
		);

		CREATE TABLE IF NOT EXISTS sr_levels (
			exchange TEXT NOT NULL,
			token    TEXT NOT NULL,
			price    REAL NOT NULL,
			strength REAL NOT NULL DEFAULT 1,
			PRIMARY KEY (exchange, token, price)
		);

		CREATE TABLE IF NOT EXISTS regime_journal (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			exchange TEXT    NOT NULL,
			token    TEXT    NOT NULL,
			tf       INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			state    TEXT    NOT NULL,
			payload  TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_regime_journal_key
			ON regime_journal (exchange, token, tf, id);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed. Returns the number of
// bars committed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) int {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()
	committed := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.InsertBars(context.Background(), batch); err != nil {
			log.Error().Err(err).Str("component", "sqlite").Msg("batch insert error")
		} else {
			committed += len(batch)
			log.Debug().Str("component", "sqlite").Int("bars", len(batch)).Dur("took", time.Since(start)).Msg("committed bars")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return committed

		case b, ok := <-barCh:
			if !ok {
				flush()
				return committed
			}
			batch = append(batch, b)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// InsertBars inserts a batch of bars in a single transaction.
func (w *Writer) InsertBars(ctx context.Context, bars []model.Bar) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (token, exchange, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare bars: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, b.Token, b.Exchange, b.TF, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar: %w", err)
		}
	}

	return tx.Commit()
}

// UpsertPosition adds or updates a tracked position.
func (w *Writer) UpsertPosition(ctx context.Context, p model.Position) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO positions (exchange, token, tf, trading_symbol, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (exchange, token, tf) DO UPDATE SET
			trading_symbol = excluded.trading_symbol,
			active = excluded.active
	`, p.Exchange, p.Token, p.TF, p.TradingSymbol, boolToInt(p.Active))
	if err != nil {
		return fmt.Errorf("sqlite upsert position: %w", err)
	}
	return nil
}

// ReplaceLevels replaces every S/R level of an instrument.
func (w *Writer) ReplaceLevels(ctx context.Context, exchange, token string, levels []model.SRLevel) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sr_levels WHERE exchange = ? AND token = ?`, exchange, token); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite delete levels: %w", err)
	}
	for _, lv := range levels {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO sr_levels (exchange, token, price, strength) VALUES (?, ?, ?, ?)
		`, exchange, token, lv.Price, lv.Strength); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert level: %w", err)
		}
	}
	return tx.Commit()
}

// AppendJournal stores one evaluated payload and prunes the instrument's
// journal to the configured number of rows.
func (w *Writer) AppendJournal(ctx context.Context, p model.Position, ts time.Time, state string, payload []byte) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO regime_journal (exchange, token, tf, ts, state, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Exchange, p.Token, p.TF, ts.Unix(), state, string(payload))
	if err != nil {
		return fmt.Errorf("sqlite insert journal: %w", err)
	}

	// Prune old rows, keeping the last journalKeep per instrument/TF.
	_, err = w.db.ExecContext(ctx, `
		DELETE FROM regime_journal
		WHERE exchange = ? AND token = ? AND tf = ? AND id NOT IN (
			SELECT id FROM regime_journal
			WHERE exchange = ? AND token = ? AND tf = ?
			ORDER BY id DESC LIMIT ?
		)
	`, p.Exchange, p.Token, p.TF, p.Exchange, p.Token, p.TF, w.journalKeep)
	if err != nil {
		log.Warn().Err(err).Str("component", "sqlite").Msg("prune journal warning")
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
