package regime

import (
	"math"
	"time"

	"uptrend-engine/internal/model"
	"uptrend-engine/internal/scoring"
)

// anchor is an EMA a gate measures price against, with its own slope and the
// slope of the next-faster EMA.
type anchor struct {
	name        string
	value       float64
	slope       float64
	fasterSlope float64
}

func anchorEMA60(s *model.IndicatorSnapshot) anchor {
	return anchor{name: "ema60", value: s.EMA.E60, slope: s.Slopes.E60, fasterSlope: s.Slopes.E30}
}

func anchorEMA333(s *model.IndicatorSnapshot) anchor {
	return anchor{name: "ema333", value: s.EMA.E333, slope: s.Slopes.E333, fasterSlope: s.Slopes.E250}
}

func (a anchor) slopeOK() bool {
	return a.fasterSlope > 0 || a.slope >= 0
}

// buyGate passes when price is within ATR×haloATR of the anchor, the anchor
// is not rolling over and boosted TS clears BuyTSMin.
func (e *Engine) buyGate(s *model.IndicatorSnapshot, levels []model.SRLevel, a anchor, haloATR float64) *GateDiag {
	d := &GateDiag{Anchor: a.name, AnchorValue: a.value}
	switch {
	case s.Close <= 0:
		d.Reason = "price_non_positive"
		return d
	case a.value <= 0:
		d.Reason = "ema_non_positive"
		return d
	case s.ATR <= 0:
		d.Reason = "atr_non_positive"
		return d
	}

	d.Distance = math.Abs(s.Close - a.value)
	d.Halo = s.ATR * haloATR
	d.InHalo = d.Distance <= d.Halo
	d.SlopeOK = a.slopeOK()
	d.TS = scoring.TS(s, e.params.Scoring.TS)
	d.TSWithBoost = scoring.TSWithBoost(s, levels, a.value, e.params.Scoring)
	d.Pass = d.InHalo && d.SlopeOK && d.TSWithBoost >= e.params.BuyTSMin

	switch {
	case !d.InHalo:
		d.Reason = "outside_halo"
	case !d.SlopeOK:
		d.Reason = "slope_rolling_over"
	case !d.Pass:
		d.Reason = "ts_below_min"
	}
	return d
}

// trim passes when OX is stretched and an S/R level sits within
// TrimLevelATR×ATR of price.
func (e *Engine) trim(s *model.IndicatorSnapshot, levels []model.SRLevel, ox float64) *TrimDiag {
	d := &TrimDiag{OX: ox}
	if s.ATR <= 0 {
		d.Reason = "atr_non_positive"
		return d
	}
	best := math.Inf(1)
	for _, lv := range levels {
		dist := math.Abs(lv.Price - s.Close)
		if dist < best {
			best = dist
			price := lv.Price
			d.NearestLevel = &price
		}
	}
	near := false
	if d.NearestLevel != nil {
		d.DistanceATR = best / s.ATR
		near = d.DistanceATR <= e.params.TrimLevelATR
	}
	d.Pass = ox >= e.params.TrimOXMin && near

	switch {
	case ox < e.params.TrimOXMin:
		d.Reason = "ox_below_min"
	case d.NearestLevel == nil:
		d.Reason = "no_levels"
	case !near:
		d.Reason = "no_level_near_price"
	}
	return d
}

// discountThreshold raises the DX bar as EDX climbs and lowers it the
// closer price sits to EMA333 (x → 0).
func (e *Engine) discountThreshold(edx, x float64) (thr, supp, pos float64) {
	p := e.params
	switch {
	case edx < p.DiscountSuppFrom:
		supp = 0
	case edx <= p.DiscountSuppTo:
		span := p.DiscountSuppTo - p.DiscountSuppFrom
		if span > 0 {
			supp = p.DiscountSuppRamp * (edx - p.DiscountSuppFrom) / span
		}
	default:
		supp = p.DiscountSuppMax
	}
	pos = p.DiscountPosBase - p.DiscountPosSlope*x
	return p.DiscountBase + supp - pos, supp, pos
}

// discount is the S3 discount-zone buy: price at or below EMA144 with DX
// above its EDX-adjusted threshold.
func (e *Engine) discount(s *model.IndicatorSnapshot, levels []model.SRLevel, dx, edx, x float64, emergency bool) *DiscountDiag {
	a := anchorEMA333(s)
	d := &DiscountDiag{DX: dx}
	d.Threshold, d.Supp, d.Pos = e.discountThreshold(edx, x)
	if s.EMA.E144 <= 0 || a.value <= 0 {
		d.Reason = "ema_non_positive"
		return d
	}
	d.BelowEMA144 = s.Close <= s.EMA.E144
	d.SlopeOK = a.slopeOK()
	d.TSWithBoost = scoring.TSWithBoost(s, levels, a.value, e.params.Scoring)
	tsOK := d.TSWithBoost >= e.params.BuyTSMin
	d.Pass = d.BelowEMA144 && d.SlopeOK && tsOK && dx >= d.Threshold && !emergency

	switch {
	case emergency:
		d.Reason = "emergency_exit"
	case !d.BelowEMA144:
		d.Reason = "above_ema144"
	case !d.SlopeOK:
		d.Reason = "slope_rolling_over"
	case !tsOK:
		d.Reason = "ts_below_min"
	case !d.Pass:
		d.Reason = "dx_below_threshold"
	}
	return d
}

// barsSinceEntry counts the bars in hist after the regime start up to the
// snapshot. Without regime bars it falls back to ⌊(ts − start)/tf⌋, which
// overcounts across session gaps. It is −1 when unknown.
func barsSinceEntry(start *time.Time, s *model.IndicatorSnapshot, hist *scoring.History) int {
	if start == nil || s.TS.Before(*start) {
		return -1
	}
	if n, ok := hist.BarsAfter(*start, s.TS); ok {
		return n
	}
	if s.TF <= 0 {
		return -1
	}
	return int(s.TS.Sub(*start) / (time.Duration(s.TF) * time.Second))
}

// firstDip is the one-shot early pullback buy of an S3 episode: a touch of
// the fast band within FirstDipFastBars bars of entry or of EMA60 within
// FirstDipMidBars bars.
func (e *Engine) firstDip(s *model.IndicatorSnapshot, levels []model.SRLevel, meta Meta, bars int) *FirstDipDiag {
	p := e.params
	d := &FirstDipDiag{BarsSinceEntry: bars}

	switch {
	case meta.FirstDipTaken:
		d.Reason = "already_taken"
		return d
	case bars < 0:
		d.Reason = "no_regime_start"
		return d
	case s.ATR <= 0:
		d.Reason = "atr_non_positive"
		return d
	case s.Close <= 0:
		d.Reason = "price_non_positive"
		return d
	}

	halo := s.ATR * p.FirstDipHaloATR
	var touched float64
	d20, d30 := math.Abs(s.Close-s.EMA.E20), math.Abs(s.Close-s.EMA.E30)
	switch {
	case bars <= p.FirstDipFastBars && math.Min(d20, d30) <= halo:
		if d20 <= d30 {
			d.Touched, touched = "ema20", s.EMA.E20
		} else {
			d.Touched, touched = "ema30", s.EMA.E30
		}
	case bars <= p.FirstDipMidBars && math.Abs(s.Close-s.EMA.E60) <= halo:
		d.Touched, touched = "ema60", s.EMA.E60
	default:
		d.Reason = "no_touch"
		return d
	}
	if touched <= 0 {
		d.Reason = "ema_non_positive"
		return d
	}

	d.TSWithBoost = scoring.TSWithBoost(s, levels, touched, p.Scoring)
	slopeOK := anchorEMA333(s).slopeOK()
	aboveAnchor := s.Close >= s.EMA.E333
	d.Pass = slopeOK && d.TSWithBoost >= p.FirstDipTSMin && aboveAnchor

	switch {
	case !slopeOK:
		d.Reason = "slope_rolling_over"
	case d.TSWithBoost < p.FirstDipTSMin:
		d.Reason = "ts_below_min"
	case !aboveAnchor:
		d.Reason = "below_ema333"
	}
	return d
}
