// Package market derives per-narrative and market-wide analytics from the activity
// ledger. Nothing is cached: every call reads one ledger snapshot and recomputes.
package market

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcliao/narrative-market/internal/ledger"
	"github.com/rcliao/narrative-market/internal/metrics"
	"github.com/rcliao/narrative-market/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Engine computes market analytics. Its methods only fail when the ledger cannot be read.
type Engine struct {
	ledger *ledger.Ledger
	cfg    Config
}

// NewEngine returns an Engine over l.
func NewEngine(l *ledger.Ledger, cfg Config) *Engine {
	return &Engine{ledger: l, cfg: cfg}
}

// Config returns the engine's policy constants.
func (e *Engine) Config() Config { return e.cfg }

// View binds the engine's formulas to one snapshot.
func (e *Engine) View(ctx context.Context) (*View, error) {
	snap, err := e.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return NewView(snap, e.cfg), nil
}

// StakingVelocity sums stake and unstake magnitudes for id within window.
func (e *Engine) StakingVelocity(ctx context.Context, id int64, window time.Duration) (float64, error) {
	defer metrics.TimeAnalytics("velocity")()
	v, err := e.View(ctx)
	if err != nil {
		return 0, err
	}
	return v.Velocity(id, window), nil
}

// Momentum compares the short-window velocity, scaled to the long window, with the
// long-window velocity.
func (e *Engine) Momentum(ctx context.Context, id int64) (float64, error) {
	defer metrics.TimeAnalytics("momentum")()
	v, err := e.View(ctx)
	if err != nil {
		return 0, err
	}
	return v.Momentum(id), nil
}

// PercentageChange compares net stake after now-window with net stake before it.
func (e *Engine) PercentageChange(ctx context.Context, id int64, window time.Duration) (float64, error) {
	defer metrics.TimeAnalytics("percentage_change")()
	v, err := e.View(ctx)
	if err != nil {
		return 0, err
	}
	return v.PercentageChange(id, window), nil
}

// RecencyScore decays linearly from 100 to zero over the recency horizon.
func (e *Engine) RecencyScore(createdAt time.Time) float64 {
	return recency(e.ledger.Now(), createdAt, e.cfg.RecencyHorizon)
}

// StakingDiversity scores the number of distinct stakers on id.
func (e *Engine) StakingDiversity(ctx context.Context, id int64) (float64, error) {
	v, err := e.View(ctx)
	if err != nil {
		return 0, err
	}
	return v.Diversity(id), nil
}

// TrendingScore is the weighted composite of velocity, momentum, recency and diversity.
// A narrative without activity scores zero.
func (e *Engine) TrendingScore(ctx context.Context, id int64) (float64, error) {
	defer metrics.TimeAnalytics("trending_score")()
	v, err := e.View(ctx)
	if err != nil {
		return 0, err
	}
	return v.TrendingScore(id), nil
}

// NarrativeMetric returns the derived metric for id. Unknown ids yield a zero metric.
func (e *Engine) NarrativeMetric(ctx context.Context, id int64) (*model.NarrativeMetric, error) {
	v, err := e.View(ctx)
	if err != nil {
		return nil, err
	}
	m := v.Metric(id)
	return &m, nil
}

// NarrativeMetrics returns a metric for every narrative with activity, in order of
// first activity.
func (e *Engine) NarrativeMetrics(ctx context.Context) ([]model.NarrativeMetric, error) {
	v, err := e.View(ctx)
	if err != nil {
		return nil, err
	}
	return v.Metrics(), nil
}

// MarketMetrics summarizes the market.
func (e *Engine) MarketMetrics(ctx context.Context) (*model.MarketMetrics, error) {
	defer metrics.TimeAnalytics("market_metrics")()
	v, err := e.View(ctx)
	if err != nil {
		return nil, err
	}
	m := v.MarketMetrics()
	return &m, nil
}

// MarketSentiment classifies every tracked narrative and takes a majority vote.
func (e *Engine) MarketSentiment(ctx context.Context) (*model.MarketSentiment, error) {
	defer metrics.TimeAnalytics("sentiment")()
	v, err := e.View(ctx)
	if err != nil {
		return nil, err
	}
	s := v.Sentiment()
	return &s, nil
}

// TrendingNarratives ranks tracked narratives by momentum. A limit <= 0 uses the
// configured default.
func (e *Engine) TrendingNarratives(ctx context.Context, limit int) ([]model.TrendingData, error) {
	defer metrics.TimeAnalytics("trending")()
	v, err := e.View(ctx)
	if err != nil {
		return nil, err
	}
	return v.Trending(limit), nil
}

// NarrativeActivity returns id's activities newest first. A zero window uses the
// configured activity window.
func (e *Engine) NarrativeActivity(ctx context.Context, id int64, window time.Duration) ([]model.Activity, error) {
	if window == 0 {
		window = e.cfg.Windows.Activity
	}
	return e.ledger.Query(ctx, id, window)
}

// View evaluates the formulas against a single snapshot.
type View struct {
	snap *ledger.Snapshot
	cfg  Config
}

// NewView binds cfg to snap.
func NewView(snap *ledger.Snapshot, cfg Config) *View {
	return &View{snap: snap, cfg: cfg}
}

// Snapshot returns the underlying snapshot.
func (v *View) Snapshot() *ledger.Snapshot { return v.snap }

func (v *View) Velocity(id int64, window time.Duration) float64 {
	return v.snap.Volume(id, window).InexactFloat64()
}

func (v *View) Momentum(id int64) float64 {
	w := v.cfg.Windows
	long := v.snap.Volume(id, w.MomentumLong)
	if long.IsZero() {
		return 0
	}
	short := v.snap.Volume(id, w.MomentumShort)
	scale := decimal.NewFromFloat(w.MomentumLong.Hours() / w.MomentumShort.Hours())
	return short.Mul(scale).Div(long).InexactFloat64()
}

func (v *View) PercentageChange(id int64, window time.Duration) float64 {
	before, after := v.snap.NetSplit(id, window)
	if before.IsZero() {
		if after.IsPositive() {
			return 100
		}
		return 0
	}
	return after.Sub(before).Div(before).Mul(hundred).InexactFloat64()
}

func (v *View) Diversity(id int64) float64 {
	return math.Min(v.cfg.DiversityCap, float64(v.snap.UniqueStakers(id))*v.cfg.DiversityPerStaker)
}

func (v *View) Recency(createdAt time.Time) float64 {
	return recency(v.snap.At, createdAt, v.cfg.RecencyHorizon)
}

func (v *View) TrendingScore(id int64) float64 {
	if !v.snap.Has(id) {
		return 0
	}
	w := v.cfg.Weights
	return v.Velocity(id, v.cfg.Windows.Velocity)*w.Velocity +
		v.Momentum(id)*w.Momentum +
		v.Recency(v.snap.CreatedAt(id))*w.Recency +
		v.Diversity(id)*w.Diversity
}

func (v *View) Metric(id int64) model.NarrativeMetric {
	m := model.NarrativeMetric{NarrativeID: id, TotalStaked: decimal.Zero}
	if !v.snap.Has(id) {
		return m
	}
	m.TotalStaked = v.snap.TotalStaked(id)
	m.UniqueStakers = v.snap.UniqueStakers(id)
	m.StakingVelocity = v.Velocity(id, v.cfg.Windows.Velocity)
	m.TrendingScore = v.TrendingScore(id)
	m.CreatedAt = v.snap.CreatedAt(id)
	return m
}

func (v *View) Metrics() []model.NarrativeMetric {
	ids := v.snap.NarrativeIDs()
	out := make([]model.NarrativeMetric, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.Metric(id))
	}
	return out
}

func (v *View) MarketMetrics() model.MarketMetrics {
	all := v.Metrics()

	tvl := decimal.Zero
	for _, m := range all {
		tvl = tvl.Add(m.TotalStaked)
	}
	avg := decimal.Zero
	if len(all) > 0 {
		avg = tvl.Div(decimal.NewFromInt(int64(len(all))))
	}

	window := v.cfg.Windows.ActiveStakers
	flow := v.snap.Flow(window)
	// Counts, not amounts: the result stays within +-PriceChangeScale.
	price := float64(flow.StakeCount-flow.UnstakeCount) / float64(max(1, flow.Total())) * v.cfg.PriceChangeScale

	top := make([]model.NarrativeMetric, len(all))
	copy(top, all)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].TotalStaked.GreaterThan(top[j].TotalStaked)
	})
	if len(top) > v.cfg.TopN {
		top = top[:v.cfg.TopN]
	}

	return model.MarketMetrics{
		TotalValueLocked:     tvl,
		TotalNarratives:      len(all),
		ActiveStakers:        v.snap.ActiveStakers(window),
		AverageStakeSize:     avg,
		TopNarrativesByStake: top,
		StakingVolume24h:     flow.Stakes,
		PriceChange24h:       price,
	}
}

func (v *View) Classify(pct float64) model.Sentiment {
	switch {
	case pct > v.cfg.Sentiment.Bullish:
		return model.SentimentBullish
	case pct < v.cfg.Sentiment.Bearish:
		return model.SentimentBearish
	default:
		return model.SentimentNeutral
	}
}

func (v *View) Sentiment() model.MarketSentiment {
	var s model.MarketSentiment
	for _, id := range v.snap.NarrativeIDs() {
		switch v.Classify(v.PercentageChange(id, v.cfg.Windows.Change)) {
		case model.SentimentBullish:
			s.Bullish++
		case model.SentimentBearish:
			s.Bearish++
		default:
			s.Neutral++
		}
	}
	s.Overall = overall(s.Bullish, s.Bearish, s.Neutral)
	return s
}

func (v *View) Trending(limit int) []model.TrendingData {
	if limit <= 0 {
		limit = v.cfg.TrendingLimit
	}
	timeframe := formatWindow(v.cfg.Windows.Change)

	out := make([]model.TrendingData, 0, len(v.snap.NarrativeIDs()))
	for _, id := range v.snap.NarrativeIDs() {
		out = append(out, model.TrendingData{
			Narrative:        v.Metric(id),
			Momentum:         v.Momentum(id),
			PercentageChange: v.PercentageChange(id, v.cfg.Windows.Change),
			Timeframe:        timeframe,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Momentum > out[j].Momentum })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func recency(now, createdAt time.Time, horizon time.Duration) float64 {
	hoursOld := now.Sub(createdAt).Hours()
	return math.Max(0, horizon.Hours()-hoursOld)
}

// overall picks the larger of bullish and bearish, then keeps it only if it also
// beats neutral. Ties fall to the later branch.
func overall(bullish, bearish, neutral int) model.Sentiment {
	if bullish > bearish {
		if bullish > neutral {
			return model.SentimentBullish
		}
		return model.SentimentNeutral
	}
	if bearish > neutral {
		return model.SentimentBearish
	}
	return model.SentimentNeutral
}

func formatWindow(d time.Duration) string {
	return strconv.FormatFloat(d.Hours(), 'f', -1, 64) + "h"
}
