// Package scoring computes risk and engagement scores for monitored content.
//
// All scoring is pure and config-driven: a weighted recency table, per-tier
// risk weights, and per-subcategory weights combine with raw engagement
// counters into a single risk score, which is then classified into a level.
// The configuration is validated once at load time; per-call operations never
// re-validate it.
package scoring

import "errors"

var (
	ErrInvalidTier    = errors.New("scoring: unknown risk tier")
	ErrInvalidInput   = errors.New("scoring: negative engagement counter")
	ErrDivisionByZero = errors.New("scoring: video count is zero")
	ErrInvalidConfig  = errors.New("scoring: invalid config")
)

// RiskTier labels content risk as assigned by the upstream classifier.
type RiskTier string

const (
	TierHigh       RiskTier = "High"
	TierMedium     RiskTier = "Medium"
	TierLow        RiskTier = "Low"
	TierIrrelevant RiskTier = "Irrelevant"
)

// Classification is the classifier output attached to a content chunk.
// The engine treats it as opaque input; it never produces one.
type Classification struct {
	Tier            string `json:"tier"`
	Subcategory     string `json:"subcategory"`
	DaysSincePosted int    `json:"daysSincePosted"`
	Shares          int    `json:"shares"`
	Saves           int    `json:"saves"`
	Comments        int    `json:"comments"`
	Likes           int    `json:"likes"`
	VideoCount      int    `json:"videoCount"`
}

// Assessment is the engine's verdict on a piece of classified content.
type Assessment struct {
	EngagementScore float64  `json:"engagementScore"`
	CombinedScore   float64  `json:"combinedScore"`
	Level           RiskTier `json:"level"`
}
