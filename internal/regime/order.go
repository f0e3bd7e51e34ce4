package regime

import (
	"math"

	"uptrend-engine/internal/model"
)

// bullish: min(EMA20, EMA30) > EMA60 > EMA144 > EMA250 > EMA333.
func bullish(e model.EMASet) bool {
	return math.Min(e.E20, e.E30) > e.E60 && e.E60 > e.E144 && e.E144 > e.E250 && e.E250 > e.E333
}

// bearish: max(EMA20, EMA30) < EMA60 < EMA144 < EMA250 < EMA333.
func bearish(e model.EMASet) bool {
	return math.Max(e.E20, e.E30) < e.E60 && e.E60 < e.E144 && e.E144 < e.E250 && e.E250 < e.E333
}

// fastBandAtBottom: the whole fast band sits below every slower EMA.
func fastBandAtBottom(e model.EMASet) bool {
	floor := math.Min(math.Min(e.E60, e.E144), math.Min(e.E250, e.E333))
	return math.Max(e.E20, e.E30) < floor
}

func fastBandAboveMid(e model.EMASet) bool {
	return math.Min(e.E20, e.E30) > e.E60
}

// allBelowAnchor: EMA20 through EMA250 are all below EMA333.
func allBelowAnchor(e model.EMASet) bool {
	return e.E20 < e.E333 && e.E30 < e.E333 && e.E60 < e.E333 && e.E144 < e.E333 && e.E250 < e.E333
}
