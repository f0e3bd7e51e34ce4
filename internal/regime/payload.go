package regime

import (
	"encoding/json"
	"time"

	"uptrend-engine/internal/scoring"
)

// Exit reasons.
const (
	ExitFastBandBelowAll = "fast_band_below_all"
	ExitAllEMAsBelow333  = "all_emas_below_333"
)

// Meta is the per-position memory carried between evaluations.
// RegimeStart is set on S3 entry; both fields clear when S3 ends.
type Meta struct {
	RegimeStart   *time.Time `json:"regime_start,omitempty"`
	FirstDipTaken bool       `json:"first_dip_taken"`
}

// Flags are the actionable booleans of a payload.
type Flags struct {
	BuySignal       bool `json:"buy_signal"`
	BuyFlag         bool `json:"buy_flag"`
	TrimFlag        bool `json:"trim_flag"`
	FirstDipBuyFlag bool `json:"first_dip_buy_flag"`
	EmergencyExit   bool `json:"emergency_exit"`
	ReclaimedAnchor bool `json:"reclaimed_anchor"`
	ExitPosition    bool `json:"exit_position"`
}

// Raised returns the JSON names of the flags that are set.
func (f Flags) Raised() []string {
	var out []string
	add := func(on bool, name string) {
		if on {
			out = append(out, name)
		}
	}
	add(f.BuySignal, "buy_signal")
	add(f.BuyFlag, "buy_flag")
	add(f.TrimFlag, "trim_flag")
	add(f.FirstDipBuyFlag, "first_dip_buy_flag")
	add(f.EmergencyExit, "emergency_exit")
	add(f.ReclaimedAnchor, "reclaimed_anchor")
	add(f.ExitPosition, "exit_position")
	return out
}

// Scores are the composite scores of a payload, each in [0, 1].
type Scores struct {
	OX  float64 `json:"ox"`
	DX  float64 `json:"dx"`
	EDX float64 `json:"edx"`
	TS  float64 `json:"ts"`
}

// Payload is the result of one evaluation.
type Payload struct {
	Token      string             `json:"token"`
	Exchange   string             `json:"exchange"`
	TF         int                `json:"tf"`
	State      State              `json:"state"`
	PrevState  State              `json:"prev_state"`
	Price      float64            `json:"price"`
	EMAs       map[string]float64 `json:"emas"`
	Flags      Flags              `json:"flags"`
	Scores     Scores             `json:"scores"`
	ExitReason string             `json:"exit_reason,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`

	Diagnostics Diagnostics `json:"diagnostics"`
}

// JSON returns the JSON-encoded payload. It fails on non-finite scores or
// diagnostics.
func (p *Payload) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// Transitioned reports whether the state changed on this evaluation.
func (p *Payload) Transitioned() bool {
	return p.State != p.PrevState
}

// Diagnostics explains a payload. Exactly one state variant is set, the one
// matching Payload.State. Extra carries free-form audit values.
type Diagnostics struct {
	S0    *S0Diag        `json:"s0,omitempty"`
	S1    *S1Diag        `json:"s1,omitempty"`
	S2    *S2Diag        `json:"s2,omitempty"`
	S3    *S3Diag        `json:"s3,omitempty"`
	S4    *S4Diag        `json:"s4,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Variant returns the state of the populated variant, StateNone if none.
func (d *Diagnostics) Variant() State {
	switch {
	case d.S0 != nil:
		return S0
	case d.S1 != nil:
		return S1
	case d.S2 != nil:
		return S2
	case d.S3 != nil:
		return S3
	case d.S4 != nil:
		return S4
	}
	return StateNone
}

type S0Diag struct {
	Reason        string `json:"reason"`
	Override      bool   `json:"override"`
	FastAboveMid  bool   `json:"fast_above_mid"`
	PriceAboveMid bool   `json:"price_above_mid"`
}

type S1Diag struct {
	Reason  string    `json:"reason"`
	BuyGate *GateDiag `json:"buy_gate,omitempty"`
}

type S2Diag struct {
	Reason string          `json:"reason"`
	OX     *scoring.OXDiag `json:"ox,omitempty"`
	Trim   *TrimDiag       `json:"trim,omitempty"`
	Retest *GateDiag       `json:"retest,omitempty"`
}

type S3Diag struct {
	Reason         string           `json:"reason"`
	BarsSinceEntry int              `json:"bars_since_entry"`
	OX             *scoring.OXDiag  `json:"ox,omitempty"`
	DX             *scoring.DXDiag  `json:"dx,omitempty"`
	EDX            *scoring.EDXDiag `json:"edx,omitempty"`
	Discount       *DiscountDiag    `json:"discount,omitempty"`
	Trim           *TrimDiag        `json:"trim,omitempty"`
	FirstDip       *FirstDipDiag    `json:"first_dip,omitempty"`
}

type S4Diag struct {
	Reason string `json:"reason"`
}

// GateDiag explains a buy-signal gate around an anchor EMA.
type GateDiag struct {
	Anchor      string  `json:"anchor"`
	AnchorValue float64 `json:"anchor_value"`
	Distance    float64 `json:"distance"`
	Halo        float64 `json:"halo"`
	InHalo      bool    `json:"in_halo"`
	SlopeOK     bool    `json:"slope_ok"`
	TS          float64 `json:"ts"`
	TSWithBoost float64 `json:"ts_with_boost"`
	Pass        bool    `json:"pass"`
	Reason      string  `json:"reason,omitempty"`
}

type TrimDiag struct {
	OX           float64  `json:"ox"`
	NearestLevel *float64 `json:"nearest_level,omitempty"`
	DistanceATR  float64  `json:"distance_atr,omitempty"`
	Pass         bool     `json:"pass"`
	Reason       string   `json:"reason,omitempty"`
}

type DiscountDiag struct {
	BelowEMA144 bool    `json:"below_ema144"`
	SlopeOK     bool    `json:"slope_ok"`
	TSWithBoost float64 `json:"ts_with_boost"`
	DX          float64 `json:"dx"`
	Threshold   float64 `json:"threshold"`
	Supp        float64 `json:"supp"`
	Pos         float64 `json:"pos"`
	Pass        bool    `json:"pass"`
	Reason      string  `json:"reason,omitempty"`
}

type FirstDipDiag struct {
	Touched        string  `json:"touched,omitempty"`
	BarsSinceEntry int     `json:"bars_since_entry"`
	TSWithBoost    float64 `json:"ts_with_boost"`
	Pass           bool    `json:"pass"`
	Reason         string  `json:"reason,omitempty"`
}
