package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per value. Value is 50 until period+1 values were seen.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI with the given period (typically 14).
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period, current: 50}
}

// Update feeds the next close.
func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFromAverages(r.avgGain, r.avgLoss)
		}
		return
	}

	// Wilder's smoothing: avg = (prevAvg * (period-1) + x) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFromAverages(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() float64 { return r.current }

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RSIValue returns the latest Wilder RSI of values, or 50 when
// len(values) < period+1.
func RSIValue(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 50
	}
	r := NewRSI(period)
	for _, v := range values {
		r.Update(v)
	}
	return r.Value()
}

// RSISeries returns one RSI value per input, 50 during warm-up.
func RSISeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	r := NewRSI(period)
	out := make([]float64, len(values))
	for i, v := range values {
		r.Update(v)
		out[i] = r.Value()
	}
	return out
}
