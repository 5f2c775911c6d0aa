package market

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/narrative-market/internal/ledger"
	"github.com/rcliao/narrative-market/internal/logging"
	"github.com/rcliao/narrative-market/internal/model"
	"github.com/rcliao/narrative-market/internal/store"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ledger *ledger.Ledger
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New(store.NewMemoryStore(),
		ledger.WithClock(func() time.Time { return now }),
		ledger.WithLogger(logging.Discard()))
	return &fixture{t: t, ledger: l, engine: NewEngine(l, DefaultConfig())}
}

func (f *fixture) add(id int64, staker string, amount int64, action model.Action, ago time.Duration) {
	f.t.Helper()
	_, err := f.ledger.Append(context.Background(), model.Activity{
		NarrativeID: id,
		Staker:      staker,
		Amount:      decimal.NewFromInt(amount),
		Action:      action,
		Timestamp:   now.Add(-ago),
	})
	require.NoError(f.t, err)
}

func TestVelocityScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("stake inside window", func(t *testing.T) {
		f := newFixture(t)
		f.add(7, "0xA", 100, model.ActionStake, 0)
		v, err := f.engine.StakingVelocity(ctx, 7, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 100.0, v)
	})

	t.Run("stake outside window", func(t *testing.T) {
		f := newFixture(t)
		f.add(7, "0xA", 100, model.ActionStake, 30*time.Hour)
		v, err := f.engine.StakingVelocity(ctx, 7, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0.0, v)

		v, err = f.engine.StakingVelocity(ctx, 7, 168*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 100.0, v)
	})

	t.Run("unstakes count as volume", func(t *testing.T) {
		f := newFixture(t)
		f.add(7, "0xA", 100, model.ActionStake, time.Hour)
		f.add(7, "0xA", 40, model.ActionUnstake, 0)
		v, err := f.engine.StakingVelocity(ctx, 7, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 140.0, v)
	})
}

func TestTrendingScoreWithoutActivity(t *testing.T) {
	f := newFixture(t)
	f.add(1, "0xA", 10, model.ActionStake, 0)

	score, err := f.engine.TrendingScore(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	m, err := f.engine.NarrativeMetric(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.NarrativeID)
	assert.True(t, m.TotalStaked.IsZero())
	assert.Zero(t, m.UniqueStakers)
}

func TestTrendingScore(t *testing.T) {
	f := newFixture(t)
	f.add(7, "0xA", 100, model.ActionStake, 0)

	// velocity 100, momentum 6, recency 100, diversity 2
	score, err := f.engine.TrendingScore(context.Background(), 7)
	require.NoError(t, err)
	assert.InDelta(t, 100*0.3+6*0.3+100*0.2+2*0.2, score, 1e-9)
}

func TestMomentum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(1, "0xA", 60, model.ActionStake, time.Hour)
	f.add(1, "0xA", 60, model.ActionStake, 10*time.Hour)

	m, err := f.engine.Momentum(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, m, 1e-9)

	m, err = f.engine.Momentum(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m)
}

func TestPercentageChange(t *testing.T) {
	ctx := context.Background()

	t.Run("zero baseline with growth", func(t *testing.T) {
		f := newFixture(t)
		f.add(1, "0xA", 50, model.ActionStake, time.Hour)
		pct, err := f.engine.PercentageChange(ctx, 1, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 100.0, pct)
	})

	t.Run("zero baseline without activity", func(t *testing.T) {
		f := newFixture(t)
		pct, err := f.engine.PercentageChange(ctx, 1, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0.0, pct)
	})

	t.Run("zero baseline with net outflow", func(t *testing.T) {
		f := newFixture(t)
		f.add(1, "0xA", 50, model.ActionUnstake, time.Hour)
		pct, err := f.engine.PercentageChange(ctx, 1, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0.0, pct)
	})

	t.Run("relative to baseline", func(t *testing.T) {
		f := newFixture(t)
		f.add(1, "0xA", 100, model.ActionStake, 48*time.Hour)
		f.add(1, "0xB", 150, model.ActionStake, time.Hour)
		pct, err := f.engine.PercentageChange(ctx, 1, 24*time.Hour)
		require.NoError(t, err)
		assert.InDelta(t, 50.0, pct, 1e-9)
	})

	t.Run("boundary counts as after", func(t *testing.T) {
		f := newFixture(t)
		f.add(1, "0xA", 100, model.ActionStake, 24*time.Hour)
		pct, err := f.engine.PercentageChange(ctx, 1, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 100.0, pct)
	})
}

func TestRecencyAndDiversity(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 100.0, f.engine.RecencyScore(now))
	assert.InDelta(t, 75.0, f.engine.RecencyScore(now.Add(-25*time.Hour)), 1e-9)
	assert.Equal(t, 0.0, f.engine.RecencyScore(now.Add(-200*time.Hour)))

	for i := 0; i < 60; i++ {
		f.add(1, "0x"+string(rune('A'+i%26))+string(rune('a'+i/26)), 1, model.ActionStake, 0)
	}
	d, err := f.engine.StakingDiversity(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, d)

	f.add(2, "0xA", 1, model.ActionStake, 0)
	f.add(2, "0xB", 1, model.ActionStake, 0)
	d, err = f.engine.StakingDiversity(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 4.0, d)
}

func TestMarketMetrics(t *testing.T) {
	f := newFixture(t)
	f.add(1, "0xA", 100, model.ActionStake, time.Hour)
	f.add(1, "0xB", 50, model.ActionStake, 30*time.Hour)
	f.add(2, "0xC", 30, model.ActionStake, 2*time.Hour)
	f.add(2, "0xC", 40, model.ActionUnstake, time.Hour)

	m, err := f.engine.MarketMetrics(context.Background())
	require.NoError(t, err)
	assert.True(t, m.TotalValueLocked.Equal(decimal.NewFromInt(150)), m.TotalValueLocked.String())
	assert.Equal(t, 2, m.TotalNarratives)
	assert.Equal(t, 2, m.ActiveStakers)
	assert.True(t, m.AverageStakeSize.Equal(decimal.NewFromInt(75)))
	assert.True(t, m.StakingVolume24h.Equal(decimal.NewFromInt(130)))
	// Two stakes and one unstake in the last 24h.
	assert.InDelta(t, 10.0/3, m.PriceChange24h, 1e-9)
	require.Len(t, m.TopNarrativesByStake, 2)
	assert.Equal(t, int64(1), m.TopNarrativesByStake[0].NarrativeID)
	assert.True(t, m.TopNarrativesByStake[1].TotalStaked.IsZero())
}

func TestPriceChangeCountsActions(t *testing.T) {
	f := newFixture(t)
	f.add(1, "0xA", 1000000, model.ActionStake, time.Hour)
	m, err := f.engine.MarketMetrics(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10.0, m.PriceChange24h, 1e-9)

	f.add(1, "0xA", 1, model.ActionUnstake, time.Hour)
	f.add(1, "0xA", 1, model.ActionUnstake, time.Hour)
	f.add(1, "0xA", 1, model.ActionUnstake, time.Hour)
	m, err = f.engine.MarketMetrics(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -5.0, m.PriceChange24h, 1e-9)
}

func TestMarketMetricsEmpty(t *testing.T) {
	f := newFixture(t)
	m, err := f.engine.MarketMetrics(context.Background())
	require.NoError(t, err)
	assert.True(t, m.TotalValueLocked.IsZero())
	assert.True(t, m.AverageStakeSize.IsZero())
	assert.Empty(t, m.TopNarrativesByStake)
	assert.Equal(t, 0.0, m.PriceChange24h)
}

func TestTopNarrativesCapped(t *testing.T) {
	f := newFixture(t)
	for i := int64(1); i <= 12; i++ {
		f.add(i, "0xA", i*10, model.ActionStake, time.Hour)
	}
	m, err := f.engine.MarketMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, m.TopNarrativesByStake, 10)
	assert.Equal(t, int64(12), m.TopNarrativesByStake[0].NarrativeID)
	assert.Equal(t, int64(3), m.TopNarrativesByStake[9].NarrativeID)
}

func TestMarketSentiment(t *testing.T) {
	f := newFixture(t)
	// bullish: zero baseline, positive flow
	f.add(1, "0xA", 50, model.ActionStake, time.Hour)
	f.add(2, "0xA", 10, model.ActionStake, 2*time.Hour)
	// bearish: baseline 100, then net -20
	f.add(3, "0xB", 100, model.ActionStake, 48*time.Hour)
	f.add(3, "0xB", 20, model.ActionUnstake, time.Hour)
	// neutral: +2%
	f.add(4, "0xC", 100, model.ActionStake, 48*time.Hour)
	f.add(4, "0xC", 102, model.ActionStake, time.Hour)

	s, err := f.engine.MarketSentiment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Bullish)
	assert.Equal(t, 1, s.Bearish)
	assert.Equal(t, 1, s.Neutral)
	assert.Equal(t, model.SentimentBullish, s.Overall)
}

func TestOverallSentiment(t *testing.T) {
	tests := []struct {
		bull, bear, neutral int
		want                model.Sentiment
	}{
		{2, 1, 0, model.SentimentBullish},
		{2, 1, 2, model.SentimentNeutral},
		{1, 2, 0, model.SentimentBearish},
		{1, 2, 2, model.SentimentNeutral},
		{1, 1, 0, model.SentimentBearish},
		{1, 1, 1, model.SentimentNeutral},
		{0, 0, 0, model.SentimentNeutral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, overall(tt.bull, tt.bear, tt.neutral), "%d/%d/%d", tt.bull, tt.bear, tt.neutral)
	}
}

func TestTrendingNarratives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(3, "0xA", 10, model.ActionStake, 10*time.Hour) // momentum 0
	f.add(1, "0xA", 100, model.ActionStake, time.Hour)   // momentum 6
	f.add(2, "0xB", 70, model.ActionStake, time.Hour)    // momentum 6, tracked after 1

	got, err := f.engine.TrendingNarratives(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].Narrative.NarrativeID)
	assert.Equal(t, int64(2), got[1].Narrative.NarrativeID)
	assert.Equal(t, int64(3), got[2].Narrative.NarrativeID)
	assert.Equal(t, "24h", got[0].Timeframe)
	assert.InDelta(t, 6.0, got[0].Momentum, 1e-9)
	assert.Equal(t, 100.0, got[0].PercentageChange)

	got, err = f.engine.TrendingNarratives(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNarrativeActivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(1, "0xA", 1, model.ActionStake, 200*time.Hour)
	f.add(1, "0xB", 1, model.ActionStake, 100*time.Hour)
	f.add(1, "0xC", 1, model.ActionStake, time.Hour)

	acts, err := f.engine.NarrativeActivity(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, "0xC", acts[0].Staker)

	acts, err = f.engine.NarrativeActivity(ctx, 1, 2*time.Hour)
	require.NoError(t, err)
	assert.Len(t, acts, 1)
}

func TestTrendingScoreIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(1, "0xA", 100, model.ActionStake, 3*time.Hour)
	f.add(1, "0xB", 30, model.ActionUnstake, 20*time.Hour)

	a, err := f.engine.TrendingScore(ctx, 1)
	require.NoError(t, err)
	b, err := f.engine.TrendingScore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.Weights.Momentum = -1
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Windows.MomentumShort = 0
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Sentiment.Bearish = 10
	assert.Error(t, c.Validate())
}

// naive recomputes every formula by rescanning the raw activity slice with float64.
type naive struct {
	acts []model.Activity
	now  time.Time
}

func (n naive) velocity(id int64, window time.Duration) float64 {
	sum := 0.0
	for _, a := range n.acts {
		if a.NarrativeID == id && !a.Timestamp.Before(n.now.Add(-window)) {
			sum += a.Amount.InexactFloat64()
		}
	}
	return sum
}

func (n naive) trending(id int64) float64 {
	var first *model.Activity
	stakers := map[string]bool{}
	for i, a := range n.acts {
		if a.NarrativeID != id {
			continue
		}
		if first == nil {
			first = &n.acts[i]
		}
		stakers[a.Staker] = true
	}
	if first == nil {
		return 0
	}
	v24 := n.velocity(id, 24*time.Hour)
	momentum := 0.0
	if v24 != 0 {
		momentum = n.velocity(id, 4*time.Hour) * 6 / v24
	}
	recency := 100 - n.now.Sub(first.Timestamp).Hours()
	if recency < 0 {
		recency = 0
	}
	diversity := float64(len(stakers)) * 2
	if diversity > 100 {
		diversity = 100
	}
	return v24*0.3 + momentum*0.3 + recency*0.2 + diversity*0.2
}

func (n naive) totalStaked(id int64) float64 {
	total := 0.0
	for _, a := range n.acts {
		if a.NarrativeID != id {
			continue
		}
		if a.Action == model.ActionStake {
			total += a.Amount.InexactFloat64()
		} else {
			total -= a.Amount.InexactFloat64()
			if total < 0 {
				total = 0
			}
		}
	}
	return total
}

func TestDifferentialAgainstRescan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 25; round++ {
		acts := make([]model.Activity, 0, 80)
		for i := 0; i < 80; i++ {
			action := model.ActionStake
			if rng.Intn(3) == 0 {
				action = model.ActionUnstake
			}
			acts = append(acts, model.Activity{
				ID:          "",
				NarrativeID: int64(rng.Intn(6)),
				Staker:      "0x" + string(rune('A'+rng.Intn(8))),
				Amount:      decimal.NewFromInt(int64(rng.Intn(1000) + 1)),
				Action:      action,
				Timestamp:   now.Add(-time.Duration(rng.Intn(200*60)) * time.Minute),
			})
		}

		view := NewView(ledger.NewSnapshot(now, acts), DefaultConfig())
		ref := naive{acts: acts, now: now}
		for id := int64(0); id < 7; id++ {
			assert.InDelta(t, ref.trending(id), view.TrendingScore(id), 1e-6, "round %d narrative %d", round, id)
			assert.InDelta(t, ref.totalStaked(id), view.Metric(id).TotalStaked.InexactFloat64(), 1e-6)
			assert.InDelta(t, ref.velocity(id, 24*time.Hour), view.Velocity(id, 24*time.Hour), 1e-6)
		}
	}
}
