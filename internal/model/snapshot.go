package model

import "time"

// EMASet holds one value per tracked EMA period, ordered fast → slow.
// The same shape carries EMA levels and their normalized slopes.
type EMASet struct {
	E20  float64 `json:"ema20"`
	E30  float64 `json:"ema30"`
	E60  float64 `json:"ema60"`
	E144 float64 `json:"ema144"`
	E250 float64 `json:"ema250"`
	E333 float64 `json:"ema333"`
}

// EMAPeriods are the periods backing EMASet, in field order.
var EMAPeriods = [6]int{20, 30, 60, 144, 250, 333}

// Values returns the set as an array in fast → slow order.
func (s EMASet) Values() [6]float64 {
	return [6]float64{s.E20, s.E30, s.E60, s.E144, s.E250, s.E333}
}

// FromValues builds an EMASet from fast → slow values.
func FromValues(v [6]float64) EMASet {
	return EMASet{E20: v[0], E30: v[1], E60: v[2], E144: v[3], E250: v[4], E333: v[5]}
}

// Map echoes the set as "emaN" → value.
func (s EMASet) Map() map[string]float64 {
	return map[string]float64{
		"ema20":  s.E20,
		"ema30":  s.E30,
		"ema60":  s.E60,
		"ema144": s.E144,
		"ema250": s.E250,
		"ema333": s.E333,
	}
}

// AllPositive reports whether every value is > 0.
func (s EMASet) AllPositive() bool {
	for _, v := range s.Values() {
		if v <= 0 {
			return false
		}
	}
	return true
}

// IndicatorSnapshot is the per-bar indicator state for one instrument/TF.
// Slopes are normalized %-per-bar. DSepFast/DSepMid are 5-bar changes of the
// ATR-normalized EMA20−EMA60 and EMA60−EMA144 separations.
type IndicatorSnapshot struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	TS       time.Time `json:"ts"`
	Close    float64   `json:"close"`

	EMA    EMASet `json:"ema"`
	Slopes EMASet `json:"slopes"`

	ATR        float64 `json:"atr"`
	ATRMean20  float64 `json:"atr_mean20"`
	ADX        float64 `json:"adx"`
	ADXSlope10 float64 `json:"adx_slope10"`
	RSI        float64 `json:"rsi"`
	RSISlope10 float64 `json:"rsi_slope10"`
	VolumeZ    float64 `json:"volume_z"`
	DSepFast   float64 `json:"dsep_fast"`
	DSepMid    float64 `json:"dsep_mid"`
}

// Key returns "exchange:token".
func (s *IndicatorSnapshot) Key() string {
	return s.Exchange + ":" + s.Token
}
