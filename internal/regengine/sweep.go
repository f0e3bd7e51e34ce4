package regengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"uptrend-engine/internal/events"
	"uptrend-engine/internal/indicator"
	"uptrend-engine/internal/logger"
	"uptrend-engine/internal/metrics"
	"uptrend-engine/internal/model"
	"uptrend-engine/internal/regime"
	"uptrend-engine/internal/scoring"
)

// Skip reasons.
const (
	SkipNoSnapshot = "no_snapshot"
	SkipStaleBar   = "stale_bar"
	SkipCancelled  = "cancelled"
)

var (
	// ErrSweepRunning is returned when a sweep is requested while one runs.
	ErrSweepRunning = errors.New("sweep already running")
	// ErrNoSnapshot means too few bars to build an indicator snapshot.
	ErrNoSnapshot = errors.New("not enough bars for a snapshot")

	errStaleBar = errors.New("latest bar already evaluated")
)

// stepError tags an adapter error with the step that failed.
type stepError struct {
	Op  string
	Err error
}

func (e *stepError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *stepError) Unwrap() error { return e.Err }

// PayloadPublisher fans a payload out to live subscribers.
type PayloadPublisher interface {
	Publish(ctx context.Context, regimeKey string, payload []byte) error
}

// Deps are the adapters a Sweeper reads from and writes to.
// Journal, PubSub and Events may be nil.
type Deps struct {
	Bars      model.BarReader
	Positions model.PositionLister
	Levels    model.LevelReader
	State     model.StateStore
	Journal   model.JournalWriter
	PubSub    PayloadPublisher
	Events    model.EventPublisher
}

// Evaluation is one position evaluated but not yet persisted.
type Evaluation struct {
	Position model.Position
	Snapshot model.IndicatorSnapshot
	Prev     *regime.Payload
	Result   regime.Result
}

// Outcome is the per-position line of a sweep report.
type Outcome struct {
	RegimeKey string       `json:"regime_key"`
	State     regime.State `json:"state,omitempty"`
	PrevState regime.State `json:"prev_state,omitempty"`
	Flags     []string     `json:"flags,omitempty"`
	Skipped   string       `json:"skipped,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Report summarizes one sweep.
type Report struct {
	RunID       string         `json:"run_id"`
	Trigger     string         `json:"trigger"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMs  int64          `json:"duration_ms"`
	Positions   int            `json:"positions"`
	Evaluated   int            `json:"evaluated"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	Transitions int            `json:"transitions"`
	States      map[string]int `json:"states"`
	Outcomes    []Outcome      `json:"outcomes"`
}

// Sweeper evaluates every tracked position in parallel and persists the
// results. Only one sweep runs at a time.
type Sweeper struct {
	cfg    Config
	engine *regime.Engine
	deps   Deps
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	log    zerolog.Logger

	running sync.Mutex
}

// NewSweeper wires a Sweeper. health may be nil.
func NewSweeper(cfg Config, engine *regime.Engine, deps Deps, prom *metrics.Metrics, health *metrics.HealthStatus) *Sweeper {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Sweeper{
		cfg:    cfg,
		engine: engine,
		deps:   deps,
		prom:   prom,
		health: health,
		log:    logger.Component("sweep"),
	}
}

// Sweep runs one pass over all active positions. Per-position failures are
// recorded in the report and never abort the sweep. Cancelling ctx stops
// new positions from starting; evaluations in flight complete.
func (s *Sweeper) Sweep(ctx context.Context, trigger string) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepRunning
	}
	defer s.running.Unlock()

	startedAt := time.Now()
	runID := logger.GenerateRunID(trigger, startedAt)
	ctx = logger.WithRunID(ctx, runID)
	l := logger.FromContext(ctx, s.log)
	s.prom.SweepsTotal.WithLabelValues(trigger).Inc()

	var positions []model.Position
	err := s.retry(ctx, func() error {
		var err error
		positions, err = s.deps.Positions.ListPositions(ctx)
		return err
	})
	if err != nil {
		s.prom.StoreErrors.WithLabelValues("list_positions").Inc()
		return nil, fmt.Errorf("list positions: %w", err)
	}

	report := &Report{
		RunID:     runID,
		Trigger:   trigger,
		StartedAt: startedAt,
		Positions: len(positions),
		States:    make(map[string]int),
		Outcomes:  make([]Outcome, len(positions)),
	}

	evalCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, p := range positions {
		if ctx.Err() != nil {
			for j := i; j < len(positions); j++ {
				report.Outcomes[j] = Outcome{RegimeKey: positions[j].RegimeKey(), Skipped: SkipCancelled}
				s.prom.PositionsSkipped.WithLabelValues(SkipCancelled).Inc()
			}
			break
		}
		i, p := i, p
		g.Go(func() error {
			report.Outcomes[i] = s.process(evalCtx, p)
			return nil
		})
	}
	g.Wait()

	s.tally(report)
	elapsed := time.Since(startedAt)
	report.DurationMs = elapsed.Milliseconds()
	s.prom.SweepDur.Observe(elapsed.Seconds())
	if s.health != nil {
		s.health.RecordSweep(runID, startedAt, report.Positions)
	}

	l.Info().
		Int("positions", report.Positions).
		Int("evaluated", report.Evaluated).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("transitions", report.Transitions).
		Dur("elapsed", elapsed).
		Msg("sweep complete")
	return report, nil
}

func (s *Sweeper) tally(r *Report) {
	s.prom.PositionsState.Reset()
	for _, o := range r.Outcomes {
		if o.Skipped != "" {
			r.Skipped++
			continue
		}
		if o.Error != "" {
			r.Failed++
		}
		if o.State == regime.StateNone {
			continue
		}
		r.Evaluated++
		r.States[o.State.String()]++
		if o.State != o.PrevState {
			r.Transitions++
		}
	}
	for st, n := range r.States {
		s.prom.PositionsState.WithLabelValues(st).Set(float64(n))
	}
}

// process evaluates, persists and publishes one position.
func (s *Sweeper) process(ctx context.Context, p model.Position) Outcome {
	start := time.Now()
	defer func() { s.prom.EvalDur.Observe(time.Since(start).Seconds()) }()

	key := p.RegimeKey()
	out := Outcome{RegimeKey: key}
	l := logger.FromContext(ctx, s.log).With().Str("key", key).Logger()

	ev, err := s.evaluate(ctx, p, true)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		out.Skipped = SkipNoSnapshot
	case errors.Is(err, errStaleBar):
		out.Skipped = SkipStaleBar
	case err != nil:
		out.Error = err.Error()
		s.storeError(err)
		l.Error().Err(err).Msg("evaluation failed")
		return out
	}
	if out.Skipped != "" {
		s.prom.PositionsSkipped.WithLabelValues(out.Skipped).Inc()
		l.Debug().Str("reason", out.Skipped).Msg("position skipped")
		return out
	}

	pl := &ev.Result.Payload
	out.State = pl.State
	out.PrevState = pl.PrevState
	out.Flags = pl.Flags.Raised()
	s.observe(pl)

	if err := s.persist(ctx, p, ev); err != nil {
		out.Error = err.Error()
		l.Error().Err(err).Msg("persist failed")
	}

	if pl.Transitioned() {
		l.Info().Str("from", pl.PrevState.String()).Str("to", pl.State.String()).
			Strs("flags", out.Flags).Msg("regime transition")
	}
	return out
}

// Evaluate runs the engine for one position without persisting anything.
func (s *Sweeper) Evaluate(ctx context.Context, p model.Position) (*Evaluation, error) {
	return s.evaluate(ctx, p, false)
}

func (s *Sweeper) evaluate(ctx context.Context, p model.Position, skipStale bool) (*Evaluation, error) {
	key := p.RegimeKey()
	l := logger.FromContext(ctx, s.log).With().Str("key", key).Logger()

	var bars []model.Bar
	err := s.retry(ctx, func() error {
		var err error
		bars, err = s.deps.Bars.ReadLastBars(ctx, p.Exchange, p.Token, p.TF, s.cfg.SnapshotBars)
		return err
	})
	if err != nil {
		return nil, &stepError{Op: "read_bars", Err: err}
	}
	snap, ok := indicator.BuildSnapshot(bars, p.TF)
	if !ok {
		return nil, ErrNoSnapshot
	}

	var payloadJSON, metaJSON []byte
	err = s.retry(ctx, func() error {
		var err error
		payloadJSON, metaJSON, err = s.deps.State.LoadState(ctx, key)
		return err
	})
	if err != nil {
		return nil, &stepError{Op: "load_state", Err: err}
	}

	prev, meta := s.decodeState(l, payloadJSON, metaJSON)
	if skipStale && prev != nil && !snap.TS.After(prev.Timestamp) {
		return nil, errStaleBar
	}

	levels, err := s.deps.Levels.ReadLevels(ctx, p.Exchange, p.Token)
	if err != nil {
		s.prom.StoreErrors.WithLabelValues("read_levels").Inc()
		l.Warn().Err(err).Msg("levels unavailable, evaluating without S/R")
		levels = nil
	}

	var hist *scoring.History
	if prev != nil && prev.State == regime.S3 && meta.RegimeStart != nil {
		hist, err = s.history(ctx, p, *meta.RegimeStart)
		if err != nil {
			s.prom.StoreErrors.WithLabelValues("read_history").Inc()
			l.Warn().Err(err).Msg("history unavailable, EDX falls back")
			hist = nil
		}
	}

	res := s.engine.Evaluate(regime.Input{
		Snapshot: &snap,
		Prev:     prev,
		Meta:     meta,
		Levels:   levels,
		History:  hist,
	})
	return &Evaluation{Position: p, Snapshot: snap, Prev: prev, Result: res}, nil
}

// decodeState decodes the stored payload and meta. Undecodable data is
// dropped, which makes the engine bootstrap.
func (s *Sweeper) decodeState(l zerolog.Logger, payloadJSON, metaJSON []byte) (*regime.Payload, regime.Meta) {
	var meta regime.Meta
	var prev *regime.Payload
	if len(payloadJSON) > 0 {
		var p regime.Payload
		if err := json.Unmarshal(payloadJSON, &p); err != nil {
			s.prom.StoreErrors.WithLabelValues("decode_state").Inc()
			l.Warn().Err(err).Msg("stored payload undecodable, bootstrapping")
			return nil, meta
		}
		prev = &p
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			s.prom.StoreErrors.WithLabelValues("decode_state").Inc()
			l.Warn().Err(err).Msg("stored meta undecodable, clearing")
			meta = regime.Meta{}
		}
	}
	return prev, meta
}

// history loads the bars since the regime start plus warm-up bars.
func (s *Sweeper) history(ctx context.Context, p model.Position, start time.Time) (*scoring.History, error) {
	after := start.Unix() - int64(s.cfg.WarmupBars)*int64(p.TF) - 1
	var bars []model.Bar
	err := s.retry(ctx, func() error {
		var err error
		bars, err = s.deps.Bars.ReadBars(ctx, p.Exchange, p.Token, p.TF, after)
		return err
	})
	if err != nil {
		return nil, err
	}
	if limit := s.cfg.MaxHistoryBars; limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return scoring.NewHistory(bars, start.Unix()), nil
}

// persist saves state, appends the journal and publishes. Every step is
// attempted; the first error is returned.
func (s *Sweeper) persist(ctx context.Context, p model.Position, ev *Evaluation) error {
	key := p.RegimeKey()
	pl := &ev.Result.Payload

	var first error
	fail := func(op string, err error) {
		se := &stepError{Op: op, Err: err}
		s.storeError(se)
		if first == nil {
			first = se
		}
	}

	payloadJSON, err := pl.JSON()
	if err != nil {
		fail("encode_payload", err)
		return first
	}
	metaJSON, err := json.Marshal(ev.Result.Meta)
	if err != nil {
		fail("encode_meta", err)
		return first
	}

	if err := s.deps.State.SaveState(ctx, key, payloadJSON, metaJSON); err != nil {
		fail("save_state", err)
	}
	if s.deps.Journal != nil {
		if err := s.deps.Journal.AppendJournal(ctx, p, pl.Timestamp, pl.State.String(), payloadJSON); err != nil {
			fail("journal", err)
		}
	}
	if s.deps.PubSub != nil {
		if err := s.deps.PubSub.Publish(ctx, key, payloadJSON); err != nil {
			fail("publish", err)
		}
	}
	if e, ok := events.FromPayload(key, pl, payloadJSON); ok {
		data, err := json.Marshal(e)
		if err != nil {
			fail("encode_event", err)
		} else if err := s.deps.Events.Publish(ctx, key, data); err != nil {
			s.prom.EventsPublished.WithLabelValues("error").Inc()
			fail("events", err)
		} else {
			s.prom.EventsPublished.WithLabelValues("ok").Inc()
		}
	}
	return first
}

func (s *Sweeper) observe(pl *regime.Payload) {
	s.prom.PositionsEvaluated.Inc()
	if pl.Transitioned() {
		from := pl.PrevState.String()
		if from == "" {
			from = "none"
		}
		s.prom.Transitions.WithLabelValues(from, pl.State.String()).Inc()
	}
	for _, f := range pl.Flags.Raised() {
		s.prom.FlagsTotal.WithLabelValues(f).Inc()
	}
	if d := pl.Diagnostics.S3; d != nil && d.EDX != nil && d.EDX.Mode == scoring.EDXModeFallback {
		s.prom.EDXFallbacks.WithLabelValues(d.EDX.Reason).Inc()
	}
}

func (s *Sweeper) storeError(err error) {
	var se *stepError
	if errors.As(err, &se) {
		s.prom.StoreErrors.WithLabelValues(se.Op).Inc()
	}
}

// retry retries a store read with exponential backoff. An open circuit is
// not retried.
func (s *Sweeper) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = s.cfg.ReadMaxElapsed

	operation := func() error {
		err := op()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.ReadRetries), ctx))
}
