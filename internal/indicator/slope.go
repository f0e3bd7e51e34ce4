package indicator

// LinSlope returns the ordinary-least-squares slope (units per bar) of the
// last min(window, len(values)) points. A window ≤ 0 uses every point.
// Fewer than 3 points yields 0.
func LinSlope(values []float64, window int) float64 {
	if window > 0 && window < len(values) {
		values = values[len(values)-window:]
	}
	n := len(values)
	if n < 3 {
		return 0
	}

	xMean := float64(n-1) / 2
	yMean := Mean(values)
	var num, den float64
	for i, y := range values {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// EMASlopeNormalized returns LinSlope(series, window) divided by the latest
// value, a fraction-per-bar. Returns 0 with fewer than window points or a
// non-positive latest value.
func EMASlopeNormalized(series []float64, window int) float64 {
	n := len(series)
	if n == 0 || n < window {
		return 0
	}
	latest := series[n-1]
	if latest <= 0 {
		return 0
	}
	return LinSlope(series, window) / latest
}

// EMASlopeDelta returns how much the normalized slope changed over the last
// lag bars: slope(series) − slope(series[:len−lag]). Positive means the
// series is curling up.
func EMASlopeDelta(series []float64, window, lag int) float64 {
	if lag <= 0 || len(series)-lag < window || len(series)-lag < 1 {
		return 0
	}
	now := EMASlopeNormalized(series, window)
	before := EMASlopeNormalized(series[:len(series)-lag], window)
	return now - before
}
