package scoring

import (
	"uptrend-engine/internal/indicator"
	"uptrend-engine/internal/model"
	"uptrend-engine/internal/swing"
)

// EDX modes recorded in diagnostics.
const (
	EDXModeWindows  = "windows"
	EDXModeFallback = "fallback"
)

// EDXWindow holds the sub-scores of one nested window.
type EDXWindow struct {
	Bars          int     `json:"bars"`
	Momentum      float64 `json:"momentum"`
	Structure     float64 `json:"structure"`
	Participation float64 `json:"participation"`
	Compression   float64 `json:"compression"`
}

// EDXDiag explains an EDX score.
type EDXDiag struct {
	Mode          string      `json:"mode"`
	Reason        string      `json:"reason,omitempty"`
	Bars          int         `json:"bars"`
	Windows       []EDXWindow `json:"windows,omitempty"`
	Momentum      float64     `json:"momentum"`
	Structure     float64     `json:"structure"`
	Participation float64     `json:"participation"`
	Compression   float64     `json:"compression"`
}

// EDX is the exhaustion score of an established uptrend, measured over
// nested windows anchored at the regime start. With no usable history it
// falls back to a snapshot heuristic and records why.
func EDX(snap *model.IndicatorSnapshot, hist *History, p EDXParams) (float64, EDXDiag) {
	n := hist.WindowLen()
	switch {
	case hist == nil:
		return edxFallback(snap, nil, "no_regime_start", p)
	case len(hist.Bars) == 0:
		return edxFallback(snap, hist, "no_history", p)
	case n < p.MinBars:
		return edxFallback(snap, hist, "short_history", p)
	}

	d := EDXDiag{Mode: EDXModeWindows, Bars: n}
	total := len(hist.Bars)
	for _, size := range windowSizes(n, p.MinBars) {
		d.Windows = append(d.Windows, edxWindow(hist, total-size, total, p))
	}

	var mom, str, par, cmp []float64
	for _, w := range d.Windows {
		mom = append(mom, w.Momentum)
		str = append(str, w.Structure)
		par = append(par, w.Participation)
		cmp = append(cmp, w.Compression)
	}
	d.Momentum = DecayCombine(mom)
	d.Structure = DecayCombine(str)
	d.Participation = DecayCombine(par)
	d.Compression = DecayCombine(cmp)

	score := p.MomentumWeight*d.Momentum + p.StructureWeight*d.Structure +
		p.ParticipationWeight*d.Participation + p.CompressionWeight*d.Compression
	return Clamp01(score), d
}

// windowSizes returns the nested window lengths, broadest first:
// n, ⌊2n/3⌋ and ⌊n/3⌋, each kept only when it reaches minBars.
func windowSizes(n, minBars int) []int {
	if n < minBars {
		return nil
	}
	sizes := []int{n}
	if w2 := 2 * n / 3; w2 >= minBars {
		sizes = append(sizes, w2)
	}
	if w3 := n / 3; w3 >= minBars {
		sizes = append(sizes, w3)
	}
	return sizes
}

// DecayCombine weights later (more recent) windows more heavily when the
// values are rising: three strictly increasing values → .2/.3/.5, two with
// the later greater → .3/.7, otherwise the plain mean.
func DecayCombine(vals []float64) float64 {
	switch {
	case len(vals) == 3 && vals[0] < vals[1] && vals[1] < vals[2]:
		return 0.2*vals[0] + 0.3*vals[1] + 0.5*vals[2]
	case len(vals) == 2 && vals[1] > vals[0]:
		return 0.3*vals[0] + 0.7*vals[1]
	}
	return indicator.Mean(vals)
}

func edxWindow(hist *History, lo, hi int, p EDXParams) EDXWindow {
	s := hist.Series()
	bars := hist.Bars[lo:hi]
	w := EDXWindow{Bars: hi - lo}

	e144 := s.EMAs[3][lo:hi]
	e250 := s.EMAs[4][lo:hi]
	slope144 := indicator.EMASlopeNormalized(e144, len(e144)) * 100
	slope250 := indicator.EMASlopeNormalized(e250, len(e250)) * 100
	emaTerm := (Sigmoid(-slope144, p.EMASlopeK) + Sigmoid(-slope250, p.EMASlopeK)) / 2
	rsiTerm := Sigmoid(-indicator.LinSlope(s.RSI[lo:hi], 0), p.OscSlopeK)
	adxTerm := Sigmoid(-indicator.LinSlope(s.ADX[lo:hi], 0), p.OscSlopeK)
	w.Momentum = 0.5*emaTerm + 0.25*rsiTerm + 0.25*adxTerm

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i] = b.High, b.Low
	}
	st := swing.Summarize(swing.Detect(highs, lows, s.ATR[lo:hi], p.SwingATRMultiple))
	if pairs := st.Pairs(); pairs > 0 {
		w.Structure = Clamp01(1 - float64(st.HigherHighs+st.HigherLows)/float64(pairs))
	} else {
		w.Structure = 0.5
	}

	avwap := indicator.AVWAPSeries(bars)
	w.Participation = Sigmoid(-indicator.EMASlopeNormalized(avwap, len(avwap))*100, p.AVWAPSlopeK)

	e20 := s.EMAs[0][lo:hi]
	atr := s.ATR[lo:hi]
	spread := make([]float64, len(e20))
	for i := range e20 {
		if atr[i] > 0 {
			spread[i] = (e20[i] - e144[i]) / atr[i]
		}
	}
	w.Compression = Sigmoid(-indicator.LinSlope(spread, 0), p.CompressionK)
	return w
}

// edxFallback scores exhaustion from the snapshot alone plus whatever recent
// bars exist.
func edxFallback(snap *model.IndicatorSnapshot, hist *History, reason string, p EDXParams) (float64, EDXDiag) {
	d := EDXDiag{Mode: EDXModeFallback, Reason: reason, Bars: hist.WindowLen()}

	neg := 0
	for _, s := range []float64{snap.Slopes.E60, snap.Slopes.E144, snap.Slopes.E250} {
		if s < 0 {
			neg++
		}
	}
	d.Momentum = float64(neg) / 3

	d.Structure = 0.5
	if hist != nil {
		recent := hist.Bars
		if lb := p.FallbackLookback; lb > 0 && len(recent) > lb {
			recent = recent[len(recent)-lb:]
		}
		if len(recent) >= 3 {
			lower := 0
			for i := 1; i < len(recent); i++ {
				if recent[i].Low < recent[i-1].Low {
					lower++
				}
			}
			d.Structure = float64(lower) / float64(len(recent)-1)
		}
	}

	d.Participation = Sigmoid(-snap.VolumeZ, 1)
	d.Compression = Sigmoid(-(snap.DSepFast+snap.DSepMid)/2, 0.3)

	score := p.MomentumWeight*d.Momentum + p.StructureWeight*d.Structure +
		p.ParticipationWeight*d.Participation + p.CompressionWeight*d.Compression
	return Clamp01(score), d
}
