package model

import (
	"strconv"
	"time"
)

// Position is a tracked instrument/timeframe pair swept by the regime engine.
type Position struct {
	Token         string `json:"token"`
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"trading_symbol"`
	TF            int    `json:"tf"` // timeframe in seconds
	Active        bool   `json:"active"`
}

// Key returns a unique key for this position: "exchange:token".
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Token
}

// RegimeKey returns the store key suffix "{TF}s:{exchange}:{token}".
func (p *Position) RegimeKey() string {
	return strconv.Itoa(p.TF) + "s:" + p.Exchange + ":" + p.Token
}

// Timeframe returns TF as a duration.
func (p *Position) Timeframe() time.Duration {
	return time.Duration(p.TF) * time.Second
}
