package regime

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptrend-engine/internal/model"
	"uptrend-engine/internal/scoring"
)

var t0 = time.Date(2026, 4, 6, 9, 15, 0, 0, time.UTC)

// snap builds an hourly snapshot with a rising trend-strength (TS ≈ 0.80),
// ATR 2 and mildly positive slopes on every EMA.
func snap(price float64, emas [6]float64) *model.IndicatorSnapshot {
	return &model.IndicatorSnapshot{
		Token: "2885", Exchange: "NSE", TF: 3600, TS: t0,
		Close:      price,
		EMA:        model.FromValues(emas),
		Slopes:     model.FromValues([6]float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1}),
		ATR:        2,
		ATRMean20:  2,
		ADX:        25,
		ADXSlope10: 2,
		RSI:        55,
		RSISlope10: 3,
	}
}

var (
	bullishEMAs = [6]float64{130, 128, 120, 110, 105, 100}
	bearishEMAs = [6]float64{80, 81, 85, 90, 95, 100}
	mixedEMAs   = [6]float64{99, 98, 97, 101, 102, 100}
)

// barsAt builds flat hourly bars at the given times.
func barsAt(ts ...time.Time) []model.Bar {
	out := make([]model.Bar, len(ts))
	for i, t := range ts {
		out[i] = model.Bar{Token: "2885", Exchange: "NSE", TF: 3600, TS: t,
			Open: 125, High: 126, Low: 124, Close: 125, Volume: 1000}
	}
	return out
}

func prevPayload(st State) *Payload {
	return &Payload{State: st}
}

func newEngine() *Engine { return NewEngine(DefaultParams()) }

func requireVariant(t *testing.T, p Payload) {
	t.Helper()
	require.Equal(t, p.State, p.Diagnostics.Variant(), "diagnostics variant must match state")
	n := 0
	for _, set := range []bool{p.Diagnostics.S0 != nil, p.Diagnostics.S1 != nil, p.Diagnostics.S2 != nil, p.Diagnostics.S3 != nil, p.Diagnostics.S4 != nil} {
		if set {
			n++
		}
	}
	require.Equal(t, 1, n, "exactly one diagnostics variant")
}

// ────────────────────────────────────────────────────────────
// Literal scenarios
// ────────────────────────────────────────────────────────────

func TestEvaluate_S0ToS1WithBuySignal(t *testing.T) {
	s := snap(101, [6]float64{105, 104, 100, 110, 115, 120})
	res := newEngine().Evaluate(Input{Snapshot: s, Prev: prevPayload(S0)})

	p := res.Payload
	requireVariant(t, p)
	assert.Equal(t, S1, p.State)
	assert.Equal(t, S0, p.PrevState)
	assert.True(t, p.Flags.BuySignal)
	assert.True(t, p.Diagnostics.S1.BuyGate.Pass)
	assert.Equal(t, "ema60", p.Diagnostics.S1.BuyGate.Anchor)
	assert.Nil(t, res.Meta.RegimeStart)
}

func TestEvaluate_S0StaysWhenPriceBelowMid(t *testing.T) {
	s := snap(99, [6]float64{105, 104, 100, 110, 115, 120})
	p := newEngine().Evaluate(Input{Snapshot: s, Prev: prevPayload(S0)}).Payload
	assert.Equal(t, S0, p.State)
	assert.True(t, p.Diagnostics.S0.FastAboveMid)
	assert.False(t, p.Diagnostics.S0.PriceAboveMid)
	assert.False(t, p.Flags.ExitPosition)
}

func TestEvaluate_S2ToS1WhenAnchorLost(t *testing.T) {
	s := snap(95, mixedEMAs)
	p := newEngine().Evaluate(Input{Snapshot: s, Prev: prevPayload(S2)}).Payload
	requireVariant(t, p)
	assert.Equal(t, S1, p.State)
	assert.Equal(t, "lost_ema333", p.Diagnostics.S1.Reason)
	// |95 − 97| = 2 ≤ ATR×1
	assert.True(t, p.Flags.BuySignal)
}

func TestEvaluate_S2ToS3SetsRegimeStart(t *testing.T) {
	s := snap(131, bullishEMAs)
	res := newEngine().Evaluate(Input{Snapshot: s, Prev: prevPayload(S2)})
	requireVariant(t, res.Payload)
	assert.Equal(t, S3, res.Payload.State)
	require.NotNil(t, res.Meta.RegimeStart)
	assert.True(t, res.Meta.RegimeStart.Equal(t0))
	assert.False(t, res.Meta.FirstDipTaken)
}

func TestEvaluate_S3ToS0WhenAllBelowAnchor(t *testing.T) {
	start := t0.Add(-48 * time.Hour)
	s := snap(88, [6]float64{90, 91, 89, 95, 97, 100})
	res := newEngine().Evaluate(Input{
		Snapshot: s,
		Prev:     prevPayload(S3),
		Meta:     Meta{RegimeStart: &start, FirstDipTaken: true},
	})
	p := res.Payload
	requireVariant(t, p)
	assert.Equal(t, S0, p.State)
	assert.True(t, p.Flags.ExitPosition)
	assert.Equal(t, ExitAllEMAsBelow333, p.ExitReason)
	assert.Equal(t, Meta{}, res.Meta)
}

// ────────────────────────────────────────────────────────────
// Global override & bootstrap
// ────────────────────────────────────────────────────────────

func TestEvaluate_GlobalOverrideWinsFromEveryState(t *testing.T) {
	start := t0.Add(-10 * time.Hour)
	s := snap(79, bearishEMAs)
	for _, prev := range []State{StateNone, S0, S1, S2, S3, S4} {
		t.Run("from "+prev.String(), func(t *testing.T) {
			in := Input{Snapshot: s, Meta: Meta{RegimeStart: &start, FirstDipTaken: true}}
			if prev != StateNone {
				in.Prev = prevPayload(prev)
			}
			res := newEngine().Evaluate(in)
			assert.Equal(t, S0, res.Payload.State)
			assert.True(t, res.Payload.Flags.ExitPosition)
			assert.Equal(t, ExitFastBandBelowAll, res.Payload.ExitReason)
			assert.True(t, res.Payload.Diagnostics.S0.Override)
			assert.Equal(t, Meta{}, res.Meta)
		})
	}
}

func TestEvaluate_Bootstrap(t *testing.T) {
	tests := []struct {
		name  string
		emas  [6]float64
		price float64
		want  State
	}{
		{"bullish", bullishEMAs, 131, S3},
		{"bearish", [6]float64{84, 83, 85, 90, 95, 100}, 84, S0},
		{"mixed", mixedEMAs, 100, S4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newEngine().Evaluate(Input{Snapshot: snap(tt.price, tt.emas)})
			requireVariant(t, res.Payload)
			assert.Equal(t, tt.want, res.Payload.State)
			assert.Equal(t, StateNone, res.Payload.PrevState)
			assert.Equal(t, tt.want == S3, res.Meta.RegimeStart != nil)
		})
	}
}

func TestEvaluate_UnknownPrevStateBootstraps(t *testing.T) {
	var prev Payload
	require.NoError(t, json.Unmarshal([]byte(`{"state":"S9"}`), &prev))
	res := newEngine().Evaluate(Input{Snapshot: snap(131, bullishEMAs), Prev: &prev})
	assert.Equal(t, S3, res.Payload.State)
	assert.Equal(t, StateNone, res.Payload.PrevState)
}

func TestEvaluate_S4Transitions(t *testing.T) {
	e := newEngine()
	assert.Equal(t, S3, e.Evaluate(Input{Snapshot: snap(131, bullishEMAs), Prev: prevPayload(S4)}).Payload.State)
	assert.Equal(t, S0, e.Evaluate(Input{Snapshot: snap(84, [6]float64{84, 83, 85, 90, 95, 100}), Prev: prevPayload(S4)}).Payload.State)
	assert.Equal(t, S4, e.Evaluate(Input{Snapshot: snap(100, mixedEMAs), Prev: prevPayload(S4)}).Payload.State)
}

func TestEvaluate_S1ToS2AboveAnchor(t *testing.T) {
	p := newEngine().Evaluate(Input{Snapshot: snap(101, mixedEMAs), Prev: prevPayload(S1)}).Payload
	assert.Equal(t, S2, p.State)
	p = newEngine().Evaluate(Input{Snapshot: snap(99, mixedEMAs), Prev: prevPayload(S1)}).Payload
	assert.Equal(t, S1, p.State)
}

// ────────────────────────────────────────────────────────────
// S2 / S3 flags
// ────────────────────────────────────────────────────────────

func TestEvaluate_S2TrimAtExtendedLevel(t *testing.T) {
	s := snap(130, [6]float64{112, 111, 105, 100, 108, 95})
	s.ATRMean20 = 1
	s.DSepFast, s.DSepMid = 1, 1
	p := newEngine().Evaluate(Input{
		Snapshot: s,
		Prev:     prevPayload(S2),
		Levels:   []model.SRLevel{{Price: 129.5, Strength: 0.8}},
	}).Payload

	requireVariant(t, p)
	assert.Equal(t, S2, p.State)
	assert.GreaterOrEqual(t, p.Scores.OX, 0.65)
	assert.True(t, p.Flags.TrimFlag)
	assert.False(t, p.Flags.BuyFlag, "price is far from EMA333")
	assert.Equal(t, "outside_halo", p.Diagnostics.S2.Retest.Reason)
}

func TestEvaluate_S2RetestBuyFlag(t *testing.T) {
	s := snap(100.5, [6]float64{112, 111, 105, 100, 108, 100.2})
	p := newEngine().Evaluate(Input{Snapshot: s, Prev: prevPayload(S2)}).Payload
	assert.Equal(t, S2, p.State)
	assert.True(t, p.Flags.BuyFlag)
	assert.False(t, p.Flags.TrimFlag)
}

func TestEvaluate_S3EmergencyAndReclaim(t *testing.T) {
	start := t0.Add(-40 * time.Hour)
	e := newEngine()

	res := e.Evaluate(Input{Snapshot: snap(95, bullishEMAs), Prev: prevPayload(S3), Meta: Meta{RegimeStart: &start}})
	require.Equal(t, S3, res.Payload.State)
	assert.True(t, res.Payload.Flags.EmergencyExit)
	assert.False(t, res.Payload.Flags.BuyFlag, "no discount buy during an emergency")
	assert.False(t, res.Payload.Flags.ReclaimedAnchor)

	next := snap(101, bullishEMAs)
	next.TS = t0.Add(time.Hour)
	res2 := e.Evaluate(Input{Snapshot: next, Prev: &res.Payload, Meta: res.Meta})
	assert.False(t, res2.Payload.Flags.EmergencyExit)
	assert.True(t, res2.Payload.Flags.ReclaimedAnchor)
	assert.True(t, res2.Meta.RegimeStart.Equal(start))
}

func TestEvaluate_S3DiscountBuy(t *testing.T) {
	start := t0.Add(-40 * time.Hour)
	s := snap(100.5, bullishEMAs)
	s.VolumeZ = -1
	res := newEngine().Evaluate(Input{Snapshot: s, Prev: prevPayload(S3), Meta: Meta{RegimeStart: &start}})

	p := res.Payload
	requireVariant(t, p)
	d := p.Diagnostics.S3
	assert.Equal(t, "fallback", d.EDX.Mode)
	assert.Equal(t, "no_history", d.EDX.Reason)
	assert.Contains(t, d.DX.Markers, "curl_unavailable")
	assert.True(t, d.Discount.BelowEMA144)
	assert.Greater(t, p.Scores.DX, d.Discount.Threshold)
	assert.True(t, p.Flags.BuyFlag, "discount gate: %+v", d.Discount)
	assert.Equal(t, 40, d.BarsSinceEntry)
}

func TestEvaluate_S3ScoresBounded(t *testing.T) {
	start := t0.Add(-5 * time.Hour)
	p := newEngine().Evaluate(Input{Snapshot: snap(160, bullishEMAs), Prev: prevPayload(S3), Meta: Meta{RegimeStart: &start}}).Payload
	for name, v := range map[string]float64{"ox": p.Scores.OX, "dx": p.Scores.DX, "edx": p.Scores.EDX, "ts": p.Scores.TS} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}

func TestEvaluate_FirstDipIsOneShot(t *testing.T) {
	start := t0.Add(-3 * time.Hour)
	e := newEngine()

	// Price within 0.5 ATR of EMA20, three bars after entry.
	res := e.Evaluate(Input{Snapshot: snap(129.6, bullishEMAs), Prev: prevPayload(S3), Meta: Meta{RegimeStart: &start}})
	require.Equal(t, S3, res.Payload.State)
	assert.True(t, res.Payload.Flags.FirstDipBuyFlag)
	assert.Equal(t, "ema20", res.Payload.Diagnostics.S3.FirstDip.Touched)
	assert.True(t, res.Meta.FirstDipTaken)

	next := snap(129.6, bullishEMAs)
	next.TS = t0.Add(time.Hour)
	res2 := e.Evaluate(Input{Snapshot: next, Prev: &res.Payload, Meta: res.Meta})
	assert.False(t, res2.Payload.Flags.FirstDipBuyFlag)
	assert.Equal(t, "already_taken", res2.Payload.Diagnostics.S3.FirstDip.Reason)
	assert.True(t, res2.Meta.FirstDipTaken)
}

func TestEvaluate_FirstDipWindowExpires(t *testing.T) {
	start := t0.Add(-8 * time.Hour)
	e := newEngine()

	// Fast band touch after 8 bars is too late.
	res := e.Evaluate(Input{Snapshot: snap(129.6, bullishEMAs), Prev: prevPayload(S3), Meta: Meta{RegimeStart: &start}})
	assert.False(t, res.Payload.Flags.FirstDipBuyFlag)
	assert.Equal(t, "no_touch", res.Payload.Diagnostics.S3.FirstDip.Reason)

	// EMA60 touch is still allowed up to 12 bars.
	res = e.Evaluate(Input{Snapshot: snap(120.5, bullishEMAs), Prev: prevPayload(S3), Meta: Meta{RegimeStart: &start}})
	assert.True(t, res.Payload.Flags.FirstDipBuyFlag)
	assert.Equal(t, "ema60", res.Payload.Diagnostics.S3.FirstDip.Touched)
}

func TestEvaluate_FirstDipAcrossOvernightGap(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+30*60)
	entry := time.Date(2026, 4, 6, 14, 15, 0, 0, ist)
	nextOpen := time.Date(2026, 4, 7, 9, 15, 0, 0, ist)

	// Entry bar, the 15:15 bar, then the next session's first bar: two bars
	// after entry although 19 hours have passed.
	hist := scoring.NewHistory(barsAt(entry.Add(-time.Hour), entry, entry.Add(time.Hour), nextOpen), entry.Unix())
	s := snap(129.6, bullishEMAs)
	s.TS = nextOpen

	res := newEngine().Evaluate(Input{Snapshot: s, Prev: prevPayload(S3), Meta: Meta{RegimeStart: &entry}, History: hist})
	require.Equal(t, S3, res.Payload.State)
	d := res.Payload.Diagnostics.S3
	assert.Equal(t, 2, d.BarsSinceEntry)
	assert.Equal(t, 2, d.FirstDip.BarsSinceEntry)
	assert.True(t, res.Payload.Flags.FirstDipBuyFlag, "first dip: %+v", d.FirstDip)
	assert.Equal(t, "ema20", d.FirstDip.Touched)

	// Without history the elapsed-time count closes the fast-band window.
	res = newEngine().Evaluate(Input{Snapshot: s, Prev: prevPayload(S3), Meta: Meta{RegimeStart: &entry}})
	assert.Equal(t, 19, res.Payload.Diagnostics.S3.BarsSinceEntry)
	assert.False(t, res.Payload.Flags.FirstDipBuyFlag)
}

func TestEvaluate_S3MissingStartBlocksFirstDip(t *testing.T) {
	res := newEngine().Evaluate(Input{Snapshot: snap(129.6, bullishEMAs), Prev: prevPayload(S3)})
	assert.Equal(t, S3, res.Payload.State)
	assert.False(t, res.Payload.Flags.FirstDipBuyFlag)
	assert.Equal(t, true, res.Payload.Diagnostics.Extra["regime_start_missing"])
	assert.Equal(t, "no_regime_start", res.Payload.Diagnostics.S3.EDX.Reason)
}

// ────────────────────────────────────────────────────────────
// Closure
// ────────────────────────────────────────────────────────────

func TestEvaluate_StateClosure(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := newEngine()
	prevs := []State{StateNone, S0, S1, S2, S3, S4}

	for i := 0; i < 2000; i++ {
		var emas [6]float64
		for j := range emas {
			emas[j] = 80 + rng.Float64()*40
		}
		s := snap(80+rng.Float64()*40, emas)
		s.VolumeZ = rng.NormFloat64()
		s.DSepFast, s.DSepMid = rng.NormFloat64(), rng.NormFloat64()

		prev := prevs[rng.Intn(len(prevs))]
		in := Input{Snapshot: s}
		if prev != StateNone {
			in.Prev = prevPayload(prev)
		}
		if prev == S3 {
			start := t0.Add(-time.Duration(rng.Intn(30)) * time.Hour)
			in.Meta.RegimeStart = &start
		}

		res := e.Evaluate(in)
		p := res.Payload
		require.True(t, p.State.Valid(), "iteration %d", i)
		requireVariant(t, p)
		require.Equal(t, p.State == S3, res.Meta.RegimeStart != nil, "iteration %d: %s", i, p.State)
		for _, v := range []float64{p.Scores.OX, p.Scores.DX, p.Scores.EDX, p.Scores.TS} {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
		if p.Flags.ExitPosition {
			require.Equal(t, S0, p.State)
		}
	}
}
