package scoring

import (
	"encoding/json"
	"fmt"
	"os"
)

// RecencyTier is one row of the recency weighting table. MaxDays is nil for
// the open-ended last tier.
type RecencyTier struct {
	MinDays int     `json:"minDays"`
	MaxDays *int    `json:"maxDays,omitempty"`
	Weight  float64 `json:"weight"`
}

// Config holds all scoring parameters.
type Config struct {
	RecencyTiers             []RecencyTier      `json:"recencyTiers"`
	RiskTierWeights          map[string]float64 `json:"riskTierWeights"`
	SubcategoryWeights       map[string]float64 `json:"subcategoryWeights"`
	DefaultSubcategoryWeight float64            `json:"defaultSubcategoryWeight"`
	HighCutoff               float64            `json:"highCutoff"`
	MediumCutoff             float64            `json:"mediumCutoff"`
}

// DefaultConfig returns the built-in scoring parameters used when no config
// file is provided.
func DefaultConfig() Config {
	seven := 7
	fourteen := 14
	return Config{
		RecencyTiers: []RecencyTier{
			{MinDays: 0, MaxDays: &seven, Weight: 25},
			{MinDays: 8, MaxDays: &fourteen, Weight: 20},
			{MinDays: 15, Weight: 10},
		},
		RiskTierWeights: map[string]float64{
			string(TierHigh):       1.0,
			string(TierMedium):     0.6,
			string(TierLow):        0.3,
			string(TierIrrelevant): 0.0,
		},
		SubcategoryWeights: map[string]float64{
			"politics":      1.0,
			"health":        0.9,
			"finance":       0.8,
			"entertainment": 0.4,
		},
		DefaultSubcategoryWeight: 0.5,
		HighCutoff:               250,
		MediumCutoff:             100,
	}
}

// LoadConfig reads scoring parameters from a JSON file. An empty path returns
// the built-in defaults. Any structural problem is fatal at load time so that
// per-call scoring never has to handle a bad table.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the tier table and weight maps.
//
// The recency table must start at day 0, be sorted and contiguous, and end
// with an open-ended tier. Risk-tier and subcategory weights must be in
// [0, 1]; recency weights are a free-form scale and only need to be
// non-negative.
func (c Config) Validate() error {
	if len(c.RecencyTiers) == 0 {
		return fmt.Errorf("%w: recency tier table is empty", ErrInvalidConfig)
	}

	if c.RecencyTiers[0].MinDays != 0 {
		return fmt.Errorf("%w: first recency tier must start at day 0", ErrInvalidConfig)
	}

	for i, tier := range c.RecencyTiers {
		if tier.Weight < 0 {
			return fmt.Errorf("%w: recency tier %d has negative weight", ErrInvalidConfig, i)
		}

		last := i == len(c.RecencyTiers)-1
		if last {
			if tier.MaxDays != nil {
				return fmt.Errorf("%w: last recency tier must be open-ended", ErrInvalidConfig)
			}
			continue
		}

		if tier.MaxDays == nil {
			return fmt.Errorf("%w: only the last recency tier may be open-ended", ErrInvalidConfig)
		}
		if *tier.MaxDays < tier.MinDays {
			return fmt.Errorf("%w: recency tier %d has maxDays < minDays", ErrInvalidConfig, i)
		}
		if next := c.RecencyTiers[i+1]; next.MinDays != *tier.MaxDays+1 {
			return fmt.Errorf("%w: recency tiers %d and %d are not contiguous", ErrInvalidConfig, i, i+1)
		}
	}

	for _, tier := range []RiskTier{TierHigh, TierMedium, TierLow, TierIrrelevant} {
		w, ok := c.RiskTierWeights[string(tier)]
		if !ok {
			return fmt.Errorf("%w: missing risk tier weight for %q", ErrInvalidConfig, tier)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: risk tier weight for %q outside [0,1]", ErrInvalidConfig, tier)
		}
	}

	for sub, w := range c.SubcategoryWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: subcategory weight for %q outside [0,1]", ErrInvalidConfig, sub)
		}
	}
	if c.DefaultSubcategoryWeight < 0 || c.DefaultSubcategoryWeight > 1 {
		return fmt.Errorf("%w: default subcategory weight outside [0,1]", ErrInvalidConfig)
	}

	if c.MediumCutoff < 0 || c.HighCutoff < c.MediumCutoff {
		return fmt.Errorf("%w: classification cutoffs must satisfy 0 <= medium <= high", ErrInvalidConfig)
	}

	return nil
}
