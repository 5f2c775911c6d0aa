package market

import (
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/errs"
)

// Weights are the trending score coefficients.
type Weights struct {
	Velocity  float64 `yaml:"velocity" json:"velocity"`
	Momentum  float64 `yaml:"momentum" json:"momentum"`
	Recency   float64 `yaml:"recency" json:"recency"`
	Diversity float64 `yaml:"diversity" json:"diversity"`
}

// SentimentThresholds classify a 24h percentage change. A change above Bullish is
// bullish, below Bearish is bearish, anything else neutral.
type SentimentThresholds struct {
	Bullish float64 `yaml:"bullish" json:"bullish"`
	Bearish float64 `yaml:"bearish" json:"bearish"`
}

// Windows are the trailing time windows the engine aggregates over.
type Windows struct {
	Velocity      time.Duration `yaml:"velocity" json:"velocity"`
	MomentumShort time.Duration `yaml:"momentum_short" json:"momentum_short"`
	MomentumLong  time.Duration `yaml:"momentum_long" json:"momentum_long"`
	Change        time.Duration `yaml:"change" json:"change"`
	Activity      time.Duration `yaml:"activity" json:"activity"`
	ActiveStakers time.Duration `yaml:"active_stakers" json:"active_stakers"`
}

// Config holds every policy constant of the analytics engine.
type Config struct {
	Weights   Weights             `yaml:"weights" json:"weights"`
	Sentiment SentimentThresholds `yaml:"sentiment" json:"sentiment"`
	Windows   Windows             `yaml:"windows" json:"windows"`

	// RecencyHorizon is the age at which the recency score reaches zero.
	RecencyHorizon time.Duration `yaml:"recency_horizon" json:"recency_horizon"`
	// DiversityPerStaker and DiversityCap shape min(cap, stakers*per).
	DiversityPerStaker float64 `yaml:"diversity_per_staker" json:"diversity_per_staker"`
	DiversityCap       float64 `yaml:"diversity_cap" json:"diversity_cap"`
	// PriceChangeScale multiplies the net stake action count per 24h activity.
	PriceChangeScale float64 `yaml:"price_change_scale" json:"price_change_scale"`

	TopN          int `yaml:"top_n" json:"top_n"`
	TrendingLimit int `yaml:"trending_limit" json:"trending_limit"`
}

// DefaultConfig returns the reference policy.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{Velocity: 0.3, Momentum: 0.3, Recency: 0.2, Diversity: 0.2},
		Sentiment: SentimentThresholds{
			Bullish: 5,
			Bearish: -5,
		},
		Windows: Windows{
			Velocity:      24 * time.Hour,
			MomentumShort: 4 * time.Hour,
			MomentumLong:  24 * time.Hour,
			Change:        24 * time.Hour,
			Activity:      168 * time.Hour,
			ActiveStakers: 24 * time.Hour,
		},
		RecencyHorizon:     100 * time.Hour,
		DiversityPerStaker: 2,
		DiversityCap:       100,
		PriceChangeScale:   10,
		TopN:               10,
		TrendingLimit:      20,
	}
}

// Validate rejects configurations the formulas cannot work with.
func (c Config) Validate() error {
	w := c.Weights
	if w.Velocity < 0 || w.Momentum < 0 || w.Recency < 0 || w.Diversity < 0 {
		return goerr.Wrap(errs.ErrInvalidInput, "trending weights must not be negative")
	}
	if c.Sentiment.Bearish > c.Sentiment.Bullish {
		return goerr.Wrap(errs.ErrInvalidInput, "bearish threshold above bullish threshold",
			goerr.V("bullish", c.Sentiment.Bullish), goerr.V("bearish", c.Sentiment.Bearish))
	}
	win := c.Windows
	for name, d := range map[string]time.Duration{
		"velocity":       win.Velocity,
		"momentum_short": win.MomentumShort,
		"momentum_long":  win.MomentumLong,
		"change":         win.Change,
		"activity":       win.Activity,
		"active_stakers": win.ActiveStakers,
	} {
		if d <= 0 {
			return goerr.Wrap(errs.ErrInvalidInput, "window must be positive", goerr.V("window", name))
		}
	}
	if c.RecencyHorizon <= 0 {
		return goerr.Wrap(errs.ErrInvalidInput, "recency horizon must be positive")
	}
	if c.TopN < 0 || c.TrendingLimit < 0 {
		return goerr.Wrap(errs.ErrInvalidInput, "limits must not be negative")
	}
	return nil
}
