package model

import "time"

// Bar is one closed OHLCV bar for an instrument on a timeframe.
// TF is the timeframe duration in seconds (e.g., 3600 = 1 hour).
type Bar struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	TS       time.Time `json:"ts"` // bucket start time (UTC, TF-aligned)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Key returns "exchange:token".
func (b *Bar) Key() string {
	return b.Exchange + ":" + b.Token
}

// Closes extracts the close prices of bars in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}
