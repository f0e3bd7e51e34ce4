package indicator

import "uptrend-engine/internal/model"

// Series holds the full per-bar series behind a snapshot. The regime engine
// uses it for EDX history; BuildSnapshot reduces it to the latest values.
type Series struct {
	Closes  []float64
	EMAs    [6][]float64
	ATR     []float64
	ADX     []float64
	RSI     []float64
	Volumes []float64
}

// ComputeSeries derives every indicator series from bars. Each series has
// len(bars) entries (ATR/ADX are left-padded). Returns a zero Series for
// fewer than 2 bars.
func ComputeSeries(bars []model.Bar) Series {
	if len(bars) < 2 {
		return Series{}
	}
	closes := model.Closes(bars)
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = b.Volume
	}

	var s Series
	s.Closes = closes
	s.Volumes = vols
	for i, p := range model.EMAPeriods {
		s.EMAs[i] = EMASeries(closes, p)
	}
	s.ATR = ATRSeriesWilder(bars, ATRPeriod)
	s.ADX = ADXSeriesWilder(bars, ADXPeriod)
	s.RSI = RSISeries(closes, RSIPeriod)
	return s
}

// separation returns (fast−slow)/ATR per bar, 0 where ATR ≤ 0.
func separation(fast, slow, atr []float64) []float64 {
	out := make([]float64, len(fast))
	for i := range fast {
		if atr[i] > 0 {
			out[i] = (fast[i] - slow[i]) / atr[i]
		}
	}
	return out
}

// lagDelta returns series[last] − series[last−lag], 0 when too short.
func lagDelta(series []float64, lag int) float64 {
	n := len(series)
	if n <= lag {
		return 0
	}
	return series[n-1] - series[n-1-lag]
}

// BuildSnapshot computes the indicator snapshot for the last bar. ok is false
// when fewer than MinSnapshotBars bars are available.
func BuildSnapshot(bars []model.Bar, tf int) (model.IndicatorSnapshot, bool) {
	if len(bars) < MinSnapshotBars {
		return model.IndicatorSnapshot{}, false
	}
	s := ComputeSeries(bars)
	last := bars[len(bars)-1]
	n := len(bars)

	var emas, slopes [6]float64
	for i := range model.EMAPeriods {
		emas[i] = s.EMAs[i][n-1]
		slopes[i] = EMASlopeNormalized(s.EMAs[i], SlopeWindow) * 100
	}

	snap := model.IndicatorSnapshot{
		Token:      last.Token,
		Exchange:   last.Exchange,
		TF:         tf,
		TS:         last.TS,
		Close:      last.Close,
		EMA:        model.FromValues(emas),
		Slopes:     model.FromValues(slopes),
		ATR:        s.ATR[n-1],
		ATRMean20:  SMA(s.ATR, ATRMeanWindow),
		ADX:        s.ADX[n-1],
		ADXSlope10: LinSlope(s.ADX, SlopeWindow),
		RSI:        s.RSI[n-1],
		RSISlope10: LinSlope(s.RSI, SlopeWindow),
		VolumeZ:    ZScore(s.Volumes, VolumeZWindow),
	}

	// EMA20−EMA60 and EMA60−EMA144, each normalized by ATR.
	snap.DSepFast = lagDelta(separation(s.EMAs[0], s.EMAs[2], s.ATR), SepDeltaLag)
	snap.DSepMid = lagDelta(separation(s.EMAs[2], s.EMAs[3], s.ATR), SepDeltaLag)
	return snap, true
}
