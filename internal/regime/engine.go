package regime

import (
	"uptrend-engine/internal/model"
	"uptrend-engine/internal/scoring"
)

// Input is everything one evaluation needs. Snapshot must be non-nil.
// Prev is nil when the position has never been classified. History is only
// consulted while the previous state is S3 and Meta.RegimeStart is set.
type Input struct {
	Snapshot *model.IndicatorSnapshot
	Prev     *Payload
	Meta     Meta
	Levels   []model.SRLevel
	History  *scoring.History
}

// Result is the new payload and the meta to persist with it.
type Result struct {
	Payload Payload
	Meta    Meta
}

// Engine evaluates regime transitions. It holds no per-position state and
// is safe for concurrent use.
type Engine struct {
	params Params
}

// NewEngine creates an Engine with the given thresholds.
func NewEngine(p Params) *Engine {
	return &Engine{params: p}
}

// Params returns the thresholds the engine was built with.
func (e *Engine) Params() Params { return e.params }

// Evaluate applies the global override, then the rules of the previous
// state, and returns the resulting payload and meta.
func (e *Engine) Evaluate(in Input) Result {
	s := in.Snapshot
	prev := StateNone
	var prevFlags Flags
	if in.Prev != nil && in.Prev.State.Valid() {
		prev = in.Prev.State
		prevFlags = in.Prev.Flags
	}

	out := Payload{
		Token:     s.Token,
		Exchange:  s.Exchange,
		TF:        s.TF,
		PrevState: prev,
		Price:     s.Close,
		EMAs:      s.EMA.Map(),
		Timestamp: s.TS,
	}
	out.Scores.TS = scoring.TS(s, e.params.Scoring.TS)
	out.Diagnostics.Extra = map[string]any{
		"bullish":             bullish(s.EMA),
		"bearish":             bearish(s.EMA),
		"fast_band_at_bottom": fastBandAtBottom(s.EMA),
	}
	if !s.EMA.AllPositive() {
		out.Diagnostics.Extra["ema_non_positive"] = true
	}

	if fastBandAtBottom(s.EMA) {
		out.State = S0
		out.Flags.ExitPosition = true
		out.ExitReason = ExitFastBandBelowAll
		out.Diagnostics.S0 = &S0Diag{Reason: "fast_band_at_bottom", Override: true}
		return Result{Payload: out}
	}

	meta := in.Meta
	switch prev {
	case S0:
		e.fromS0(s, in.Levels, &out)
	case S1:
		e.fromS1(s, in.Levels, &out)
	case S2:
		e.fromS2(s, in.Levels, &out, &meta)
	case S3:
		e.fromS3(s, in, prevFlags, &out, &meta)
	case S4:
		e.fromS4(s, &out, &meta)
	default:
		e.bootstrap(s, &out, &meta)
	}

	if out.State != S3 {
		meta = Meta{}
	}
	return Result{Payload: out, Meta: meta}
}

func enterS3(s *model.IndicatorSnapshot, out *Payload, meta *Meta, reason string) {
	start := s.TS
	*meta = Meta{RegimeStart: &start}
	out.State = S3
	out.Diagnostics.S3 = &S3Diag{Reason: reason}
}

func (e *Engine) bootstrap(s *model.IndicatorSnapshot, out *Payload, meta *Meta) {
	switch {
	case bullish(s.EMA):
		enterS3(s, out, meta, "bootstrap_bullish")
	case bearish(s.EMA):
		out.State = S0
		out.Diagnostics.S0 = &S0Diag{Reason: "bootstrap_bearish"}
	default:
		out.State = S4
		out.Diagnostics.S4 = &S4Diag{Reason: "bootstrap_unclassified"}
	}
}

func (e *Engine) fromS0(s *model.IndicatorSnapshot, levels []model.SRLevel, out *Payload) {
	aboveMid := fastBandAboveMid(s.EMA)
	priceAboveMid := s.Close > s.EMA.E60
	if aboveMid && priceAboveMid {
		gate := e.buyGate(s, levels, anchorEMA60(s), e.params.MidHaloATR)
		out.State = S1
		out.Flags.BuySignal = gate.Pass
		out.Diagnostics.S1 = &S1Diag{Reason: "fast_band_reclaimed_mid", BuyGate: gate}
		return
	}
	out.State = S0
	out.Diagnostics.S0 = &S0Diag{
		Reason:        "downtrend_holds",
		FastAboveMid:  aboveMid,
		PriceAboveMid: priceAboveMid,
	}
}

func (e *Engine) stayS1(s *model.IndicatorSnapshot, levels []model.SRLevel, out *Payload, reason string) {
	gate := e.buyGate(s, levels, anchorEMA60(s), e.params.MidHaloATR)
	out.State = S1
	out.Flags.BuySignal = gate.Pass
	out.Diagnostics.S1 = &S1Diag{Reason: reason, BuyGate: gate}
}

func (e *Engine) fromS1(s *model.IndicatorSnapshot, levels []model.SRLevel, out *Payload) {
	if s.Close > s.EMA.E333 {
		out.State = S2
		out.Diagnostics.S2 = &S2Diag{Reason: "price_above_ema333"}
		return
	}
	e.stayS1(s, levels, out, "below_ema333")
}

func (e *Engine) fromS2(s *model.IndicatorSnapshot, levels []model.SRLevel, out *Payload, meta *Meta) {
	switch {
	case s.Close < s.EMA.E333:
		e.stayS1(s, levels, out, "lost_ema333")
	case bullish(s.EMA):
		enterS3(s, out, meta, "bullish_order")
	default:
		ox, oxd := scoring.OX(s, false, 0, e.params.Scoring.OX)
		trim := e.trim(s, levels, ox)
		retest := e.buyGate(s, levels, anchorEMA333(s), e.params.RetestHaloATR)
		out.State = S2
		out.Scores.OX = ox
		out.Flags.TrimFlag = trim.Pass
		out.Flags.BuyFlag = retest.Pass
		out.Diagnostics.S2 = &S2Diag{Reason: "defensive", OX: &oxd, Trim: trim, Retest: retest}
	}
}

func (e *Engine) fromS3(s *model.IndicatorSnapshot, in Input, prevFlags Flags, out *Payload, meta *Meta) {
	if allBelowAnchor(s.EMA) {
		out.State = S0
		out.Flags.ExitPosition = true
		out.ExitReason = ExitAllEMAsBelow333
		out.Diagnostics.S0 = &S0Diag{Reason: "all_emas_below_ema333"}
		return
	}

	sp := e.params.Scoring
	hist := in.History
	switch {
	case meta.RegimeStart == nil:
		hist = nil
		out.Diagnostics.Extra["regime_start_missing"] = true
	case hist == nil:
		hist = &scoring.History{}
	}

	edx, edxd := scoring.EDX(s, hist, sp.EDX)
	ox, oxd := scoring.OX(s, true, edx, sp.OX)
	dx, dxd := scoring.DX(s, hist.EMA144(), edx, sp.DX)

	emergency := s.Close < s.EMA.E333
	reclaimed := prevFlags.EmergencyExit && s.Close >= s.EMA.E333

	disc := e.discount(s, in.Levels, dx, edx, dxd.X, emergency)
	trim := e.trim(s, in.Levels, ox)
	bars := barsSinceEntry(meta.RegimeStart, s, hist)
	dip := e.firstDip(s, in.Levels, *meta, bars)
	if dip.Pass {
		meta.FirstDipTaken = true
	}

	out.State = S3
	out.Scores.OX, out.Scores.DX, out.Scores.EDX = ox, dx, edx
	out.Flags.EmergencyExit = emergency
	out.Flags.ReclaimedAnchor = reclaimed
	out.Flags.BuyFlag = disc.Pass
	out.Flags.TrimFlag = trim.Pass
	out.Flags.FirstDipBuyFlag = dip.Pass
	out.Diagnostics.S3 = &S3Diag{
		Reason:         "trend_holds",
		BarsSinceEntry: bars,
		OX:             &oxd,
		DX:             &dxd,
		EDX:            &edxd,
		Discount:       disc,
		Trim:           trim,
		FirstDip:       dip,
	}
}

func (e *Engine) fromS4(s *model.IndicatorSnapshot, out *Payload, meta *Meta) {
	switch {
	case bullish(s.EMA):
		enterS3(s, out, meta, "bullish_order")
	case bearish(s.EMA):
		out.State = S0
		out.Diagnostics.S0 = &S0Diag{Reason: "bearish_order"}
	default:
		out.State = S4
		out.Diagnostics.S4 = &S4Diag{Reason: "unclassified"}
	}
}
