package scoring

// Params holds every tunable scoring constant. DefaultParams returns the
// production values; a thresholds YAML file may override any subset.
type Params struct {
	TS    TSParams    `yaml:"ts"`
	Boost BoostParams `yaml:"boost"`
	OX    OXParams    `yaml:"ox"`
	DX    DXParams    `yaml:"dx"`
	EDX   EDXParams   `yaml:"edx"`
}

type TSParams struct {
	RSISlopeK float64 `yaml:"rsi_slope_k"`
	ADXSlopeK float64 `yaml:"adx_slope_k"`
}

type BoostParams struct {
	HaloATR float64 `yaml:"halo_atr"`
	Max     float64 `yaml:"max"`
}

type OXParams struct {
	RailATRMultiples [4]float64 `yaml:"rail_atr_multiples"` // EMA20, EMA60, EMA144, EMA250
	RailWeights      [4]float64 `yaml:"rail_weights"`
	RailK            float64    `yaml:"rail_k"`
	SepK             float64    `yaml:"sep_k"`
	SepFastWeight    float64    `yaml:"sep_fast_weight"`
	SepMidWeight     float64    `yaml:"sep_mid_weight"`
	ATRSurgeK        float64    `yaml:"atr_surge_k"`
	ATRSurgeWeight   float64    `yaml:"atr_surge_weight"`
	FragilityK       float64    `yaml:"fragility_k"`
	FragilityWeight  float64    `yaml:"fragility_weight"`
	EDXAmpAbove      float64    `yaml:"edx_amp_above"`
	EDXAmpFactor     float64    `yaml:"edx_amp_factor"`
}

type DXParams struct {
	LocationWeight   float64    `yaml:"location_weight"`
	ExhaustionWeight float64    `yaml:"exhaustion_weight"`
	ReliefWeight     float64    `yaml:"relief_weight"`
	CurlWeight       float64    `yaml:"curl_weight"`
	LocationDecay    float64    `yaml:"location_decay"`
	CompressionWidth float64    `yaml:"compression_width"` // band width in ATRs below which location is boosted
	CompressionBoost float64    `yaml:"compression_boost"`
	VolumeK          float64    `yaml:"volume_k"`
	ReliefATRK       float64    `yaml:"relief_atr_k"`
	ReliefRSIK       float64    `yaml:"relief_rsi_k"`
	ReliefADXK       float64    `yaml:"relief_adx_k"`
	ReliefWeights    [3]float64 `yaml:"relief_weights"` // ATR, RSI, ADX
	ReliefMinADX     float64    `yaml:"relief_min_adx"`
	CurlWindow       int        `yaml:"curl_window"`
	CurlLag          int        `yaml:"curl_lag"`
	EDXDampAbove     float64    `yaml:"edx_damp_above"`
	EDXDampFactor    float64    `yaml:"edx_damp_factor"`
}

type EDXParams struct {
	MomentumWeight      float64 `yaml:"momentum_weight"`
	StructureWeight     float64 `yaml:"structure_weight"`
	ParticipationWeight float64 `yaml:"participation_weight"`
	CompressionWeight   float64 `yaml:"compression_weight"`
	MinBars             int     `yaml:"min_bars"`
	EMASlopeK           float64 `yaml:"ema_slope_k"`
	OscSlopeK           float64 `yaml:"osc_slope_k"`
	AVWAPSlopeK         float64 `yaml:"avwap_slope_k"`
	CompressionK        float64 `yaml:"compression_k"`
	SwingATRMultiple    float64 `yaml:"swing_atr_multiple"`
	FallbackLookback    int     `yaml:"fallback_lookback"`
}

// DefaultParams returns the production scoring constants.
func DefaultParams() Params {
	return Params{
		TS: TSParams{RSISlopeK: 2.0, ADXSlopeK: 1.5},
		Boost: BoostParams{
			HaloATR: 1.0,
			Max:     0.15,
		},
		OX: OXParams{
			RailATRMultiples: [4]float64{1, 2, 3, 4},
			RailWeights:      [4]float64{0.15, 0.15, 0.12, 0.08},
			RailK:            0.35,
			SepK:             0.3,
			SepFastWeight:    0.10,
			SepMidWeight:     0.10,
			ATRSurgeK:        0.15,
			ATRSurgeWeight:   0.15,
			FragilityK:       0.1,
			FragilityWeight:  0.15,
			EDXAmpAbove:      0.5,
			EDXAmpFactor:     0.5,
		},
		DX: DXParams{
			LocationWeight:   0.45,
			ExhaustionWeight: 0.20,
			ReliefWeight:     0.25,
			CurlWeight:       0.10,
			LocationDecay:    2.5,
			CompressionWidth: 2.0,
			CompressionBoost: 0.25,
			VolumeK:          1.0,
			ReliefATRK:       0.1,
			ReliefRSIK:       2.0,
			ReliefADXK:       1.5,
			ReliefWeights:    [3]float64{0.4, 0.3, 0.3},
			ReliefMinADX:     18,
			CurlWindow:       10,
			CurlLag:          3,
			EDXDampAbove:     0.6,
			EDXDampFactor:    0.5,
		},
		EDX: EDXParams{
			MomentumWeight:      0.35,
			StructureWeight:     0.25,
			ParticipationWeight: 0.20,
			CompressionWeight:   0.20,
			MinBars:             10,
			EMASlopeK:           0.05,
			OscSlopeK:           0.5,
			AVWAPSlopeK:         0.05,
			CompressionK:        0.05,
			SwingATRMultiple:    1.5,
			FallbackLookback:    20,
		},
	}
}
