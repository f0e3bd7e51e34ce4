// Package scoring computes the composite regime scores: trend strength (TS)
// with its S/R boost, overextension (OX), discount (DX) and exhaustion (EDX).
// Every score is a sigmoid blend clamped to [0, 1].
package scoring

import "math"

// Sigmoid returns 1/(1+e^(−x/k)). A non-positive k degrades to a step at 0.
func Sigmoid(x, k float64) float64 {
	if k <= 0 {
		if x > 0 {
			return 1
		}
		if x < 0 {
			return 0
		}
		return 0.5
	}
	return 1 / (1 + math.Exp(-x/k))
}

// Clamp01 restricts v to [0, 1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
