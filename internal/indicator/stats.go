package indicator

import "math"

// Mean returns the arithmetic mean, 0 for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation, 0 for empty input.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// Tail returns the last n values (all of them when n ≤ 0 or n ≥ len).
func Tail(values []float64, n int) []float64 {
	if n <= 0 || n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

// SMA returns the mean of the last window values.
func SMA(values []float64, window int) float64 {
	return Mean(Tail(values, window))
}

// ZScore returns how many standard deviations the latest value sits from the
// mean of the last window values. 0 when the window is flat or empty.
func ZScore(values []float64, window int) float64 {
	w := Tail(values, window)
	if len(w) == 0 {
		return 0
	}
	sd := StdDev(w)
	if sd == 0 {
		return 0
	}
	return (w[len(w)-1] - Mean(w)) / sd
}
