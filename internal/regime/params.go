package regime

import "uptrend-engine/internal/scoring"

// Params holds the gate thresholds and the scoring constants.
type Params struct {
	Scoring scoring.Params `yaml:"scoring"`

	BuyTSMin      float64 `yaml:"buy_ts_min"`
	MidHaloATR    float64 `yaml:"mid_halo_atr"`
	RetestHaloATR float64 `yaml:"retest_halo_atr"`

	TrimOXMin    float64 `yaml:"trim_ox_min"`
	TrimLevelATR float64 `yaml:"trim_level_atr"`

	DiscountBase     float64 `yaml:"discount_base"`
	DiscountSuppFrom float64 `yaml:"discount_supp_from"` // EDX where suppression starts
	DiscountSuppTo   float64 `yaml:"discount_supp_to"`   // EDX where the linear ramp ends
	DiscountSuppRamp float64 `yaml:"discount_supp_ramp"` // suppression reached at DiscountSuppTo
	DiscountSuppMax  float64 `yaml:"discount_supp_max"`  // suppression above DiscountSuppTo
	DiscountPosBase  float64 `yaml:"discount_pos_base"`
	DiscountPosSlope float64 `yaml:"discount_pos_slope"`

	FirstDipHaloATR  float64 `yaml:"first_dip_halo_atr"`
	FirstDipFastBars int     `yaml:"first_dip_fast_bars"`
	FirstDipMidBars  int     `yaml:"first_dip_mid_bars"`
	FirstDipTSMin    float64 `yaml:"first_dip_ts_min"`
}

// DefaultParams returns the production thresholds.
func DefaultParams() Params {
	return Params{
		Scoring: scoring.DefaultParams(),

		BuyTSMin:      0.60,
		MidHaloATR:    1.0,
		RetestHaloATR: 0.5,

		TrimOXMin:    0.65,
		TrimLevelATR: 1.0,

		DiscountBase:     0.60,
		DiscountSuppFrom: 0.5,
		DiscountSuppTo:   0.7,
		DiscountSuppRamp: 0.10,
		DiscountSuppMax:  0.15,
		DiscountPosBase:  0.10,
		DiscountPosSlope: 0.15,

		FirstDipHaloATR:  0.5,
		FirstDipFastBars: 6,
		FirstDipMidBars:  12,
		FirstDipTSMin:    0.50,
	}
}
