package scoring

import (
	"fmt"
	"math"
)

// Engine evaluates content against a validated scoring configuration.
// All methods are safe for concurrent use; the config is immutable after
// construction.
type Engine struct {
	cfg Config
}

// NewEngine validates the config and returns an engine. A bad config is
// rejected here, never at scoring time.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// RecencyScore returns the weight for content posted the given number of days
// ago. Negative values clamp to the first tier; days beyond the table fall
// into the open-ended last tier.
func (e *Engine) RecencyScore(daysSincePosted int) float64 {
	if daysSincePosted < 0 {
		return e.cfg.RecencyTiers[0].Weight
	}
	for _, tier := range e.cfg.RecencyTiers {
		if tier.MaxDays == nil || daysSincePosted <= *tier.MaxDays {
			return tier.Weight
		}
	}
	// Unreachable: the last tier is open-ended (enforced by Validate).
	return e.cfg.RecencyTiers[len(e.cfg.RecencyTiers)-1].Weight
}

// RiskTierWeight returns the weight for a classifier tier. Unknown tiers are
// an error, never silently defaulted.
func (e *Engine) RiskTierWeight(tier string) (float64, error) {
	w, ok := e.cfg.RiskTierWeights[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return w, nil
}

// SubcategoryWeight returns the weight for a content subcategory, falling
// back to the configured default for unknown subcategories.
func (e *Engine) SubcategoryWeight(subcategory string) float64 {
	if w, ok := e.cfg.SubcategoryWeights[subcategory]; ok {
		return w
	}
	return e.cfg.DefaultSubcategoryWeight
}

// TotalEngagement sums the raw engagement counters. Negative inputs are
// rejected rather than clamped.
func (e *Engine) TotalEngagement(shares, saves, comments, likes int) (int, error) {
	if shares < 0 || saves < 0 || comments < 0 || likes < 0 {
		return 0, ErrInvalidInput
	}
	return shares + saves + comments + likes, nil
}

// EngagementScore is total engagement normalized by video count.
// A zero video count is reported, never coerced to zero.
func (e *Engine) EngagementScore(shares, saves, comments, likes, videoCount int) (float64, error) {
	total, err := e.TotalEngagement(shares, saves, comments, likes)
	if err != nil {
		return 0, err
	}
	if videoCount == 0 {
		return 0, ErrDivisionByZero
	}
	if videoCount < 0 {
		return 0, ErrInvalidInput
	}
	return float64(total) / float64(videoCount), nil
}

// CombinedRiskScore multiplies the engagement score with the recency, tier,
// and subcategory weights. Any zero factor zeroes the product.
func (e *Engine) CombinedRiskScore(engagement, recencyWeight, tierWeight, subcategoryWeight float64) float64 {
	return engagement * recencyWeight * tierWeight * subcategoryWeight
}

// Classify buckets a combined score into High, Medium, or Low.
// A score exactly on a cutoff goes to the higher bucket.
func (e *Engine) Classify(score float64) RiskTier {
	switch {
	case score >= e.cfg.HighCutoff:
		return TierHigh
	case score >= e.cfg.MediumCutoff:
		return TierMedium
	default:
		return TierLow
	}
}

// ScoreContent runs the full pipeline for a classified chunk: engagement,
// recency, tier and subcategory weighting, then classification.
func (e *Engine) ScoreContent(c Classification) (*Assessment, error) {
	engagement, err := e.EngagementScore(c.Shares, c.Saves, c.Comments, c.Likes, c.VideoCount)
	if err != nil {
		return nil, err
	}

	tierWeight, err := e.RiskTierWeight(c.Tier)
	if err != nil {
		return nil, err
	}

	combined := e.CombinedRiskScore(
		engagement,
		e.RecencyScore(c.DaysSincePosted),
		tierWeight,
		e.SubcategoryWeight(c.Subcategory),
	)

	level := e.Classify(combined)
	contentScored.WithLabelValues(string(level)).Inc()

	return &Assessment{
		EngagementScore: math.Round(engagement*1000) / 1000, // 3 decimal places
		CombinedScore:   math.Round(combined*1000) / 1000,
		Level:           level,
	}, nil
}
