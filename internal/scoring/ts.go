package scoring

import (
	"math"

	"uptrend-engine/internal/model"
)

// TS is the trend-strength score: the mean of the RSI and ADX slope sigmoids.
func TS(snap *model.IndicatorSnapshot, p TSParams) float64 {
	return Clamp01((Sigmoid(snap.RSISlope10, p.RSISlopeK) + Sigmoid(snap.ADXSlope10, p.ADXSlopeK)) / 2)
}

// SRBoost returns the largest boost contributed by an S/R level near anchor.
// Levels within ATR×HaloATR of the anchor add Max × strength × (1 − d/halo).
// Strength is clamped to [0, 1]. A non-positive ATR or anchor yields 0.
func SRBoost(levels []model.SRLevel, anchor, atr float64, p BoostParams) float64 {
	if atr <= 0 || anchor <= 0 {
		return 0
	}
	halo := atr * p.HaloATR
	if halo <= 0 {
		return 0
	}
	best := 0.0
	for _, lv := range levels {
		d := math.Abs(lv.Price - anchor)
		if d > halo {
			continue
		}
		b := p.Max * Clamp01(lv.Strength) * (1 - d/halo)
		if b > best {
			best = b
		}
	}
	return best
}

// TSWithBoost is min(1, TS + SRBoost) for the given anchor.
func TSWithBoost(snap *model.IndicatorSnapshot, levels []model.SRLevel, anchor float64, p Params) float64 {
	return Clamp01(TS(snap, p.TS) + SRBoost(levels, anchor, snap.ATR, p.Boost))
}
