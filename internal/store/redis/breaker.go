package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker around the state store.
type BreakerConfig struct {
	Failures    uint32        // consecutive failures before opening (default: 5)
	OpenTimeout time.Duration // time spent open before a probe (default: 10s)
	MaxPending  int           // buffered writes kept while open (default: 10000)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Failures == 0 {
		c.Failures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 10000
	}
	return c
}

type pendingState struct {
	payload []byte
	meta    []byte
	gen     uint64
}

// GuardedStore wraps a Store with a circuit breaker.
// While the circuit is open, state writes are buffered locally (latest per
// position wins) and flushed when the circuit closes again. A buffered write
// is served by LoadState until it reaches Redis or a newer write replaces it.
type GuardedStore struct {
	store *Store
	cb    *gobreaker.CircuitBreaker
	ctx   context.Context
	cfg   BreakerConfig

	mu      sync.Mutex
	pending map[string]pendingState
	gen     uint64

	// Direct writes hold writeMu shared; a flush holds it exclusively per key.
	writeMu sync.RWMutex

	// Callbacks
	OnBuffer      func()                        // called when a write is buffered (for metrics)
	OnFlush       func(count int)               // called after flushing buffered writes
	OnStateChange func(from, to gobreaker.State) // called on every breaker transition
}

// NewGuardedStore creates a GuardedStore around s. ctx bounds flushes.
func NewGuardedStore(ctx context.Context, s *Store, cfg BreakerConfig) *GuardedStore {
	cfg = cfg.withDefaults()
	g := &GuardedStore{
		store:   s,
		ctx:     ctx,
		cfg:     cfg,
		pending: make(map[string]pendingState),
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-state",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("component", "redis").Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
			if g.OnStateChange != nil {
				g.OnStateChange(from, to)
			}
			if to == gobreaker.StateClosed {
				go g.flush()
			}
		},
	})
	return g
}

// Store returns the unguarded store.
func (g *GuardedStore) Store() *Store { return g.store }

// State returns the current breaker state.
func (g *GuardedStore) State() gobreaker.State { return g.cb.State() }

func isOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// LoadState serves a buffered write for the position when one exists and
// reads through the breaker otherwise.
func (g *GuardedStore) LoadState(ctx context.Context, regimeKey string) ([]byte, []byte, error) {
	g.mu.Lock()
	ps, ok := g.pending[regimeKey]
	g.mu.Unlock()
	if ok {
		return ps.payload, ps.meta, nil
	}

	type pair struct{ payload, meta []byte }
	res, err := g.cb.Execute(func() (interface{}, error) {
		p, m, err := g.store.LoadState(ctx, regimeKey)
		return pair{p, m}, err
	})
	if err != nil {
		return nil, nil, err
	}
	p := res.(pair)
	return p.payload, p.meta, nil
}

// SaveState writes through the breaker. If the circuit is open, the write is
// buffered locally and nil is returned.
func (g *GuardedStore) SaveState(ctx context.Context, regimeKey string, payload, meta []byte) error {
	gen := g.nextGen()
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.saveDirect(ctx, regimeKey, payload, meta, gen)
	})
	if isOpen(err) {
		g.buffer(regimeKey, pendingState{payload: payload, meta: meta, gen: gen})
		return nil
	}
	return err
}

func (g *GuardedStore) nextGen() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	return g.gen
}

// saveDirect writes to Redis and drops any older buffered write for the key.
func (g *GuardedStore) saveDirect(ctx context.Context, regimeKey string, payload, meta []byte, gen uint64) error {
	g.writeMu.RLock()
	defer g.writeMu.RUnlock()
	if err := g.store.SaveState(ctx, regimeKey, payload, meta); err != nil {
		return err
	}
	g.dropPending(regimeKey, gen)
	return nil
}

// dropPending removes the buffered write for key unless it is newer than gen.
func (g *GuardedStore) dropPending(regimeKey string, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ps, ok := g.pending[regimeKey]; ok && ps.gen <= gen {
		delete(g.pending, regimeKey)
	}
}

// Publish sends a payload through the breaker. Publishes are not buffered.
func (g *GuardedStore) Publish(ctx context.Context, regimeKey string, payload []byte) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.store.Publish(ctx, regimeKey, payload)
	})
	return err
}

// ListLatest lists stored payloads through the breaker.
func (g *GuardedStore) ListLatest(ctx context.Context) (map[string][]byte, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.store.ListLatest(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string][]byte), nil
}

func (g *GuardedStore) buffer(regimeKey string, ps pendingState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur, ok := g.pending[regimeKey]; ok {
		if cur.gen > ps.gen {
			return
		}
	} else if len(g.pending) >= g.cfg.MaxPending {
		log.Warn().Str("component", "redis").Str("key", regimeKey).Msg("pending buffer full, dropping write")
		return
	}
	g.pending[regimeKey] = ps

	if g.OnBuffer != nil {
		g.OnBuffer()
	}
}

// flush replays buffered writes straight to the store. Entries stay
// buffered until written, so loads keep seeing them meanwhile.
func (g *GuardedStore) flush() {
	g.mu.Lock()
	keys := make([]string, 0, len(g.pending))
	for key := range g.pending {
		keys = append(keys, key)
	}
	g.mu.Unlock()
	if len(keys) == 0 {
		return
	}

	flushed := 0
	for _, key := range keys {
		ok, err := g.flushKey(key)
		if err != nil {
			log.Error().Err(err).Str("component", "redis").Str("key", key).Msg("flush failed, keeping buffered write")
			continue
		}
		if ok {
			flushed++
		}
	}

	log.Info().Str("component", "redis").Int("count", flushed).Msg("flushed buffered state writes")
	if g.OnFlush != nil {
		g.OnFlush(flushed)
	}
}

// flushKey writes the current buffered entry for key. It reports false when
// a direct write has already superseded it.
func (g *GuardedStore) flushKey(regimeKey string) (bool, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	ps, ok := g.pending[regimeKey]
	g.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := g.store.SaveState(g.ctx, regimeKey, ps.payload, ps.meta); err != nil {
		return false, err
	}
	g.dropPending(regimeKey, ps.gen)
	return true, nil
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (g *GuardedStore) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
