package regengine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"uptrend-engine/internal/regime"
)

// LoadThresholds returns the default regime parameters overlaid with the
// YAML file at path. An empty path returns the defaults.
func LoadThresholds(path string) (regime.Params, error) {
	p := regime.DefaultParams()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read thresholds %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse thresholds %s: %w", path, err)
	}
	if err := ValidateThresholds(p); err != nil {
		return p, fmt.Errorf("thresholds %s: %w", path, err)
	}
	return p, nil
}

// ValidateThresholds rejects parameter sets the engine cannot use.
func ValidateThresholds(p regime.Params) error {
	unit := map[string]float64{
		"buy_ts_min":         p.BuyTSMin,
		"trim_ox_min":        p.TrimOXMin,
		"discount_base":      p.DiscountBase,
		"discount_supp_from": p.DiscountSuppFrom,
		"discount_supp_to":   p.DiscountSuppTo,
		"first_dip_ts_min":   p.FirstDipTSMin,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %g", name, v)
		}
	}
	if p.DiscountSuppTo < p.DiscountSuppFrom {
		return fmt.Errorf("discount_supp_to (%g) < discount_supp_from (%g)", p.DiscountSuppTo, p.DiscountSuppFrom)
	}
	halos := map[string]float64{
		"mid_halo_atr":       p.MidHaloATR,
		"retest_halo_atr":    p.RetestHaloATR,
		"trim_level_atr":     p.TrimLevelATR,
		"first_dip_halo_atr": p.FirstDipHaloATR,
	}
	for name, v := range halos {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0, got %g", name, v)
		}
	}
	if p.FirstDipFastBars <= 0 || p.FirstDipMidBars < p.FirstDipFastBars {
		return fmt.Errorf("first dip bar limits invalid: fast=%d mid=%d", p.FirstDipFastBars, p.FirstDipMidBars)
	}
	return nil
}
