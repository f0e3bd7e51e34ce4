package scoring

import "uptrend-engine/internal/model"

// OXDiag explains an OX score.
type OXDiag struct {
	Rails     [4]float64 `json:"rails"` // EMA20, EMA60, EMA144, EMA250
	SepFast   float64    `json:"sep_fast"`
	SepMid    float64    `json:"sep_mid"`
	ATRSurge  float64    `json:"atr_surge"`
	Fragility float64    `json:"fragility"`
	Raw       float64    `json:"raw"`
	EDXAmp    float64    `json:"edx_amp,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// OX is the overextension score. Price far above the rails, expanding
// separations, an ATR surge and a rolling-over EMA20 all push it up. When
// inS3 is set and edx exceeds EDXAmpAbove the score is amplified.
func OX(snap *model.IndicatorSnapshot, inS3 bool, edx float64, p OXParams) (float64, OXDiag) {
	var d OXDiag
	price, atr := snap.Close, snap.ATR
	if atr <= 0 {
		d.Reason = "atr_non_positive"
		return 0, d
	}
	if price <= 0 {
		d.Reason = "price_non_positive"
		return 0, d
	}

	rails := [4]float64{snap.EMA.E20, snap.EMA.E60, snap.EMA.E144, snap.EMA.E250}
	score := 0.0
	for i, ema := range rails {
		mult := p.RailATRMultiples[i]
		if ema <= 0 || mult <= 0 {
			continue
		}
		z := (price - ema) / (atr * mult)
		d.Rails[i] = Sigmoid(z-1, p.RailK)
		score += p.RailWeights[i] * d.Rails[i]
	}

	d.SepFast = Sigmoid(snap.DSepFast, p.SepK)
	d.SepMid = Sigmoid(snap.DSepMid, p.SepK)
	score += p.SepFastWeight*d.SepFast + p.SepMidWeight*d.SepMid

	ratio := 1.0
	if snap.ATRMean20 > 0 {
		ratio = atr / snap.ATRMean20
	}
	d.ATRSurge = Sigmoid(ratio-1, p.ATRSurgeK)
	score += p.ATRSurgeWeight * d.ATRSurge

	d.Fragility = Sigmoid(-snap.Slopes.E20, p.FragilityK)
	score += p.FragilityWeight * d.Fragility

	d.Raw = Clamp01(score)
	out := d.Raw
	if inS3 && edx > p.EDXAmpAbove {
		d.EDXAmp = 1 + p.EDXAmpFactor*(edx-p.EDXAmpAbove)
		out *= d.EDXAmp
	}
	return Clamp01(out), d
}
