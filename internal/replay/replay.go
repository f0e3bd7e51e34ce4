// Package replay walks stored bars through the regime engine one bar at a
// time to rebuild a regime timeline without touching live state.
package replay

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"uptrend-engine/internal/indicator"
	"uptrend-engine/internal/model"
	"uptrend-engine/internal/regime"
	"uptrend-engine/internal/scoring"
)

// Config bounds the bars each replayed evaluation sees. The values mirror
// the live sweep so a replay reproduces what the sweep would have emitted.
type Config struct {
	Window     int // bars per snapshot
	Warmup     int // bars before the regime start in EDX history
	MaxHistory int // cap on history bars (0 = unbounded)
}

// Step is one replayed evaluation.
type Step struct {
	TS         time.Time     `json:"ts"`
	Price      float64       `json:"price"`
	State      regime.State  `json:"state"`
	PrevState  regime.State  `json:"prev_state"`
	Flags      []string      `json:"flags,omitempty"`
	Scores     regime.Scores `json:"scores"`
	ExitReason string        `json:"exit_reason,omitempty"`
}

// Summary aggregates a replay. Steps keeps only evaluations that changed
// state or raised a flag.
type Summary struct {
	Position    model.Position  `json:"position"`
	Bars        int             `json:"bars"`
	Evaluated   int             `json:"evaluated"`
	Transitions int             `json:"transitions"`
	BarsInState map[string]int  `json:"bars_in_state"`
	Steps       []Step          `json:"steps"`
	Final       *regime.Payload `json:"final,omitempty"`
	FinalMeta   regime.Meta     `json:"final_meta"`
}

// Replayer reads historical bars and replays them through an engine.
type Replayer struct {
	bars   model.BarReader
	engine *regime.Engine
	cfg    Config
}

// New creates a Replayer.
func New(bars model.BarReader, engine *regime.Engine, cfg Config) *Replayer {
	if cfg.Window < indicator.MinSnapshotBars {
		cfg.Window = indicator.MinSnapshotBars
	}
	return &Replayer{bars: bars, engine: engine, cfg: cfg}
}

// Run replays every bar of p with ts >= fromTS (0 = all). Earlier bars
// only warm the indicators. emit, when non-nil, sees every evaluation.
// Cancelling ctx stops the replay and returns the partial summary.
func (r *Replayer) Run(ctx context.Context, p model.Position, fromTS int64, emit func(Step)) (*Summary, error) {
	bars, err := r.bars.ReadBars(ctx, p.Exchange, p.Token, p.TF, 0)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Position: p, Bars: len(bars), BarsInState: make(map[string]int)}
	if len(bars) == 0 {
		log.Info().Str("component", "replay").Str("key", p.RegimeKey()).Msg("no bars to replay")
		return sum, nil
	}

	var prev *regime.Payload
	var meta regime.Meta
	for i := indicator.MinSnapshotBars - 1; i < len(bars); i++ {
		if bars[i].TS.Unix() < fromTS {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		lo := i + 1 - r.cfg.Window
		if lo < 0 {
			lo = 0
		}
		snap, ok := indicator.BuildSnapshot(bars[lo:i+1], p.TF)
		if !ok {
			continue
		}

		var hist *scoring.History
		if prev != nil && prev.State == regime.S3 && meta.RegimeStart != nil {
			hist = r.history(bars[:i+1], *meta.RegimeStart)
		}

		res := r.engine.Evaluate(regime.Input{Snapshot: &snap, Prev: prev, Meta: meta, History: hist})
		pl := res.Payload
		prev, meta = &pl, res.Meta

		sum.Evaluated++
		sum.BarsInState[pl.State.String()]++
		step := Step{
			TS:         pl.Timestamp,
			Price:      pl.Price,
			State:      pl.State,
			PrevState:  pl.PrevState,
			Flags:      pl.Flags.Raised(),
			Scores:     pl.Scores,
			ExitReason: pl.ExitReason,
		}
		if pl.Transitioned() {
			sum.Transitions++
		}
		if pl.Transitioned() || len(step.Flags) > 0 {
			sum.Steps = append(sum.Steps, step)
		}
		if emit != nil {
			emit(step)
		}
	}
	sum.Final, sum.FinalMeta = prev, meta
	return sum, nil
}

// history slices the warm-up plus regime bars out of the replayed prefix.
func (r *Replayer) history(bars []model.Bar, start time.Time) *scoring.History {
	startIdx := sort.Search(len(bars), func(i int) bool { return !bars[i].TS.Before(start) })
	lo := startIdx - r.cfg.Warmup
	if lo < 0 {
		lo = 0
	}
	if r.cfg.MaxHistory > 0 && len(bars)-lo > r.cfg.MaxHistory {
		lo = len(bars) - r.cfg.MaxHistory
	}
	return scoring.NewHistory(bars[lo:], start.Unix())
}
