package indicator

import "uptrend-engine/internal/model"

// AVWAPSeries returns the volume-weighted average price anchored at bars[0]:
// Σ(typical × volume) / Σ volume, typical = (H+L+C)/3. While cumulative
// volume is zero the bar's close is used instead.
func AVWAPSeries(bars []model.Bar) []float64 {
	if len(bars) == 0 {
		return nil
	}
	out := make([]float64, len(bars))
	var cumPV, cumV float64
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		cumPV += typical * b.Volume
		cumV += b.Volume
		if cumV > 0 {
			out[i] = cumPV / cumV
		} else {
			out[i] = b.Close
		}
	}
	return out
}
