package indicator

// EMA calculates an Exponential Moving Average seeded with the first value.
// O(1) per update, no window storage needed.
type EMA struct {
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA with the given period. Periods below 1 are
// treated as 1, which makes the EMA track its input.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{multiplier: 2.0 / float64(period+1)}
}

// Update feeds the next value.
func (e *EMA) Update(v float64) {
	e.count++
	if e.count == 1 {
		e.current = v
		return
	}
	// EMA = (v * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = v*e.multiplier + e.current*(1-e.multiplier)
}

func (e *EMA) Value() float64 { return e.current }

// EMASeries returns one EMA value per input. out[0] == values[0].
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	e := NewEMA(period)
	out := make([]float64, len(values))
	for i, v := range values {
		e.Update(v)
		out[i] = e.Value()
	}
	return out
}

// Smooth is an EMA smoothing helper for derived series (RSI, ADX, spreads).
func Smooth(values []float64, period int) []float64 {
	return EMASeries(values, period)
}
