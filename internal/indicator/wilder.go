package indicator

import (
	"math"

	"uptrend-engine/internal/model"
)

// trueRanges returns TR for bars[1:], len(bars)-1 values.
func trueRanges(bars []model.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	tr := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		h, l, pc := bars[i].High, bars[i].Low, bars[i-1].Close
		tr[i-1] = math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
	}
	return tr
}

// padLeft prefixes vals with copies of vals[0] until it has n elements.
func padLeft(vals []float64, n int) []float64 {
	if len(vals) == 0 || len(vals) >= n {
		return vals
	}
	out := make([]float64, n)
	pad := n - len(vals)
	for i := 0; i < pad; i++ {
		out[i] = vals[0]
	}
	copy(out[pad:], vals)
	return out
}

// wilderAverage seeds with the simple mean of the first p values and
// continues with avg = (prev*(p-1) + x) / p. p is clamped to len(vals).
func wilderAverage(vals []float64, period int) []float64 {
	if len(vals) == 0 {
		return nil
	}
	p := period
	if p < 1 {
		p = 1
	}
	if p > len(vals) {
		p = len(vals)
	}
	out := make([]float64, 0, len(vals)-p+1)
	seed := Mean(vals[:p])
	out = append(out, seed)
	prev := seed
	fp := float64(p)
	for _, x := range vals[p:] {
		prev = (prev*(fp-1) + x) / fp
		out = append(out, prev)
	}
	return out
}

// ATRSeriesWilder returns Wilder's ATR, left-padded with the first computed
// value so len(out) == len(bars). Returns nil for fewer than 2 bars.
func ATRSeriesWilder(bars []model.Bar, period int) []float64 {
	tr := trueRanges(bars)
	if len(tr) == 0 {
		return nil
	}
	return padLeft(wilderAverage(tr, period), len(bars))
}

// ATR returns the latest Wilder ATR, 0 when unavailable.
func ATR(bars []model.Bar, period int) float64 {
	s := ATRSeriesWilder(bars, period)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// ADXSeriesWilder returns Wilder's ADX, left-padded with the first computed
// value so len(out) == len(bars). Returns nil for fewer than 2 bars.
func ADXSeriesWilder(bars []model.Bar, period int) []float64 {
	tr := trueRanges(bars)
	if len(tr) == 0 {
		return nil
	}

	plusDM := make([]float64, len(tr))
	minusDM := make([]float64, len(tr))
	for i := 1; i < len(bars); i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	p := period
	if p < 1 {
		p = 1
	}
	if p > len(tr) {
		p = len(tr)
	}

	// Wilder running sums: first = Σ first p, then s = s − s/p + x.
	var sTR, sPlus, sMinus float64
	for i := 0; i < p; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}
	dx := make([]float64, 0, len(tr)-p+1)
	dx = append(dx, directionalIndex(sTR, sPlus, sMinus))
	fp := float64(p)
	for i := p; i < len(tr); i++ {
		sTR = sTR - sTR/fp + tr[i]
		sPlus = sPlus - sPlus/fp + plusDM[i]
		sMinus = sMinus - sMinus/fp + minusDM[i]
		dx = append(dx, directionalIndex(sTR, sPlus, sMinus))
	}

	return padLeft(wilderAverage(dx, period), len(bars))
}

func directionalIndex(sTR, sPlus, sMinus float64) float64 {
	if sTR <= 0 {
		return 0
	}
	plusDI := 100 * sPlus / sTR
	minusDI := 100 * sMinus / sTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}
