package scoring

import (
	"math"

	"uptrend-engine/internal/indicator"
	"uptrend-engine/internal/model"
)

// DXDiag explains a DX score. X is the position of price inside the
// EMA333 → EMA144 band (0 at EMA333, 1 at EMA144) and feeds the discount
// threshold.
type DXDiag struct {
	X             float64  `json:"x"`
	BandWidthATR  float64  `json:"band_width_atr"`
	Location      float64  `json:"location"`
	Exhaustion    float64  `json:"exhaustion"`
	Relief        float64  `json:"relief"`
	ReliefADXUsed bool     `json:"relief_adx_used"`
	Curl          float64  `json:"curl"`
	CurlDelta     float64  `json:"curl_delta"`
	Raw           float64  `json:"raw"`
	EDXDamp       float64  `json:"edx_damp,omitempty"`
	Markers       []string `json:"markers,omitempty"`
}

// DX is the discount score: how attractive price is as a pullback entry in
// an established uptrend. ema144 is the EMA144 history used for the curl
// term; nil marks the curl as unavailable.
func DX(snap *model.IndicatorSnapshot, ema144 []float64, edx float64, p DXParams) (float64, DXDiag) {
	var d DXDiag
	price, atr := snap.Close, snap.ATR
	if price <= 0 {
		d.Markers = append(d.Markers, "price_non_positive")
		return 0, d
	}

	d.Location, d.X, d.BandWidthATR = dxLocation(price, snap.EMA.E144, snap.EMA.E333, atr, p)
	if d.Location == 0 && snap.EMA.E144 <= snap.EMA.E333 {
		d.Markers = append(d.Markers, "band_non_positive")
	}

	d.Exhaustion = Sigmoid(-snap.VolumeZ, p.VolumeK)
	d.Relief, d.ReliefADXUsed = dxRelief(snap, p)

	if len(ema144) == 0 {
		d.Markers = append(d.Markers, "curl_unavailable")
	} else {
		if len(ema144) < p.CurlWindow+p.CurlLag {
			d.Markers = append(d.Markers, "curl_short_history")
		}
		d.CurlDelta = indicator.EMASlopeDelta(ema144, p.CurlWindow, p.CurlLag)
		if d.CurlDelta > 0 {
			d.Curl = 1
		}
	}

	d.Raw = Clamp01(p.LocationWeight*d.Location + p.ExhaustionWeight*d.Exhaustion +
		p.ReliefWeight*d.Relief + p.CurlWeight*d.Curl)

	out := d.Raw
	if edx > p.EDXDampAbove {
		span := 1 - p.EDXDampAbove
		if span > 0 {
			d.EDXDamp = 1 - p.EDXDampFactor*(edx-p.EDXDampAbove)/span
			out *= d.EDXDamp
		}
	}
	return Clamp01(out), d
}

// dxLocation scores price near EMA333 highest and decays toward EMA144.
// A narrow band (in ATRs) boosts the location score.
func dxLocation(price, e144, e333, atr float64, p DXParams) (loc, x, width float64) {
	band := e144 - e333
	if band <= 0 {
		return 0, 0, 0
	}
	x = Clamp01((price - e333) / band)
	loc = math.Exp(-p.LocationDecay * x)
	if atr > 0 {
		width = band / atr
		if p.CompressionWidth > 0 && width < p.CompressionWidth {
			loc *= 1 + p.CompressionBoost*(1-width/p.CompressionWidth)
		}
	}
	return Clamp01(loc), x, width
}

// dxRelief blends a cooling ATR, a rising RSI and a falling ADX. The ADX
// term is dropped below ReliefMinADX and the remaining weights renormalized.
func dxRelief(snap *model.IndicatorSnapshot, p DXParams) (float64, bool) {
	ratio := 1.0
	if snap.ATRMean20 > 0 {
		ratio = snap.ATR / snap.ATRMean20
	}
	atrTerm := Sigmoid(1-ratio, p.ReliefATRK)
	rsiTerm := Sigmoid(snap.RSISlope10, p.ReliefRSIK)
	w := p.ReliefWeights

	if snap.ADX < p.ReliefMinADX {
		total := w[0] + w[1]
		if total <= 0 {
			return 0, false
		}
		return Clamp01((w[0]*atrTerm + w[1]*rsiTerm) / total), false
	}
	adxTerm := Sigmoid(-snap.ADXSlope10, p.ReliefADXK)
	total := w[0] + w[1] + w[2]
	if total <= 0 {
		return 0, true
	}
	return Clamp01((w[0]*atrTerm + w[1]*rsiTerm + w[2]*adxTerm) / total), true
}
