package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NarrativeMetric is the per-narrative aggregate derived from the activity ledger.
type NarrativeMetric struct {
	NarrativeID     int64           `json:"narrative_id"`
	TotalStaked     decimal.Decimal `json:"total_staked"`
	UniqueStakers   int             `json:"unique_stakers"`
	StakingVelocity float64         `json:"staking_velocity"`
	TrendingScore   float64         `json:"trending_score"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TrendingData ranks one narrative by momentum.
type TrendingData struct {
	Narrative        NarrativeMetric `json:"narrative"`
	Momentum         float64         `json:"momentum"`
	PercentageChange float64         `json:"percentage_change"`
	Timeframe        string          `json:"timeframe"`
}

// MarketMetrics summarizes the whole market.
type MarketMetrics struct {
	TotalValueLocked     decimal.Decimal   `json:"total_value_locked"`
	TotalNarratives      int               `json:"total_narratives"`
	ActiveStakers        int               `json:"active_stakers"`
	AverageStakeSize     decimal.Decimal   `json:"average_stake_size"`
	TopNarrativesByStake []NarrativeMetric `json:"top_narratives_by_stake"`
	StakingVolume24h     decimal.Decimal   `json:"staking_volume_24h"`
	PriceChange24h       float64           `json:"price_change_24h"`
}

// Sentiment classifies market direction.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// MarketSentiment counts narratives per sentiment class.
type MarketSentiment struct {
	Bullish int       `json:"bullish_narratives"`
	Bearish int       `json:"bearish_narratives"`
	Neutral int       `json:"neutral_narratives"`
	Overall Sentiment `json:"overall_sentiment"`
}
