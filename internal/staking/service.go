// Package staking accepts stake and unstake requests, derives positions from the
// activity ledger and accrues mock rewards at a narrative's APY.
package staking

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/ledger"
	"github.com/rcliao/narrative-market/internal/logging"
	"github.com/rcliao/narrative-market/internal/market"
	"github.com/rcliao/narrative-market/internal/model"
)

// Config holds the APY and reward constants.
type Config struct {
	BaseAPY          float64       `yaml:"base_apy" json:"base_apy"`
	ActivityBonus    float64       `yaml:"activity_bonus" json:"activity_bonus"`
	MaxActivityBonus float64       `yaml:"max_activity_bonus" json:"max_activity_bonus"`
	VelocityDivisor  float64       `yaml:"velocity_divisor" json:"velocity_divisor"`
	MaxVelocityBonus float64       `yaml:"max_velocity_bonus" json:"max_velocity_bonus"`
	Window           time.Duration `yaml:"window" json:"window"`
	AccrualCap       time.Duration `yaml:"accrual_cap" json:"accrual_cap"`
	ClaimInterval    time.Duration `yaml:"claim_interval" json:"claim_interval"`
}

// DefaultConfig returns the reference constants: 5% base, up to 10% for activity and
// 5% for velocity over a 7 day window.
func DefaultConfig() Config {
	return Config{
		BaseAPY:          5,
		ActivityBonus:    0.1,
		MaxActivityBonus: 10,
		VelocityDivisor:  1000,
		MaxVelocityBonus: 5,
		Window:           168 * time.Hour,
		AccrualCap:       24 * time.Hour,
		ClaimInterval:    24 * time.Hour,
	}
}

// Validate rejects constants the APY formula cannot use.
func (c Config) Validate() error {
	if c.VelocityDivisor <= 0 {
		return goerr.Wrap(errs.ErrInvalidInput, "velocity divisor must be positive")
	}
	if c.Window <= 0 || c.AccrualCap < 0 || c.ClaimInterval < 0 {
		return goerr.Wrap(errs.ErrInvalidInput, "staking windows must not be negative")
	}
	return nil
}

// Request is a stake or unstake request.
type Request struct {
	NarrativeID int64           `json:"narrative_id"`
	Amount      decimal.Decimal `json:"amount"`
	Staker      string          `json:"staker"`
}

// Position is one staker's holding on one narrative.
type Position struct {
	NarrativeID      int64            `json:"narrative_id"`
	Staker           string           `json:"staker"`
	TotalStaked      decimal.Decimal  `json:"total_staked"`
	History          []model.Activity `json:"history"`
	ProjectedRewards decimal.Decimal  `json:"projected_daily_rewards"`
}

// Rewards tracks accrued rewards for a position.
type Rewards struct {
	NarrativeID     int64           `json:"narrative_id"`
	Staker          string          `json:"staker"`
	TotalEarned     decimal.Decimal `json:"total_earned"`
	Pending         decimal.Decimal `json:"pending_rewards"`
	LastClaimedAt   time.Time       `json:"last_claimed_at"`
	NextClaimableAt time.Time       `json:"next_claimable_at"`
}

// NarrativeStake is a narrative's total stake with its APY.
type NarrativeStake struct {
	NarrativeID int64           `json:"narrative_id"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	APY         float64         `json:"apy"`
}

// Statistics summarizes staking across narratives.
type Statistics struct {
	TotalValueLocked decimal.Decimal  `json:"total_value_locked"`
	ActiveStakers    int              `json:"active_stakers"`
	AverageAPY       float64          `json:"average_apy"`
	TopStaked        []NarrativeStake `json:"top_staked_narratives"`
}

type positionKey struct {
	narrativeID int64
	staker      string
}

// Service is the staking workflow. Stake and unstake are serialized so a position
// check and its append cannot interleave with another request.
type Service struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	engine  *market.Engine
	cfg     Config
	rewards map[positionKey]*Rewards
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service over l and e.
func NewService(l *ledger.Ledger, e *market.Engine, cfg Config, opts ...Option) *Service {
	s := &Service{
		ledger:  l,
		engine:  e,
		cfg:     cfg,
		rewards: make(map[positionKey]*Rewards),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s
}

// ParseAmount parses a decimal token amount.
func ParseAmount(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, goerr.Wrap(errs.ErrInvalidInput, "invalid amount", goerr.V(errs.AmountKey, v))
	}
	return d, nil
}

func validateRequest(r Request, action model.Action) error {
	switch {
	case !model.ValidAddress(r.Staker):
		return goerr.Wrap(errs.ErrInvalidInput, "invalid staker address", goerr.V(errs.StakerKey, r.Staker))
	case !r.Amount.IsPositive():
		return goerr.Wrap(errs.ErrInvalidInput, string(action)+" amount must be positive",
			goerr.V(errs.AmountKey, r.Amount.String()))
	case r.NarrativeID < 0:
		return goerr.Wrap(errs.ErrInvalidInput, "invalid narrative id", goerr.V(errs.NarrativeIDKey, r.NarrativeID))
	}
	return nil
}

// Stake records a stake and accrues rewards on the position.
func (s *Service) Stake(ctx context.Context, r Request) (*model.Activity, error) {
	return s.apply(ctx, r, model.ActionStake)
}

// Unstake records an unstake. It fails with errs.ErrInsufficientStake when the amount
// exceeds the staker's position.
func (s *Service) Unstake(ctx context.Context, r Request) (*model.Activity, error) {
	return s.apply(ctx, r, model.ActionUnstake)
}

func (s *Service) apply(ctx context.Context, r Request, action model.Action) (*model.Activity, error) {
	if err := validateRequest(r, action); err != nil {
		return nil, err
	}
	staker := strings.ToLower(r.Staker)

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	prev := positionFrom(snap, r.NarrativeID, staker)
	if action == model.ActionUnstake && prev.TotalStaked.LessThan(r.Amount) {
		return nil, goerr.Wrap(errs.ErrInsufficientStake, "unstake exceeds position",
			goerr.V(errs.NarrativeIDKey, r.NarrativeID), goerr.V(errs.StakerKey, staker),
			goerr.V(errs.AmountKey, r.Amount.String()), goerr.V("staked", prev.TotalStaked.String()))
	}

	act, err := s.ledger.Append(ctx, model.Activity{
		NarrativeID: r.NarrativeID,
		Staker:      staker,
		Amount:      r.Amount,
		Action:      action,
	})
	if err != nil {
		return nil, err
	}

	if err := s.accrue(ctx, prev, act); err != nil {
		return nil, err
	}
	s.logger.Info("staking "+string(action),
		"narrative_id", r.NarrativeID, "staker", staker, "amount", r.Amount.String())
	return act, nil
}

// accrue adds rewards earned on the position since its previous activity, capped at
// AccrualCap, at the narrative's APY after the new activity.
func (s *Service) accrue(ctx context.Context, prev Position, act *model.Activity) error {
	key := positionKey{act.NarrativeID, act.Staker}
	rw, ok := s.rewards[key]
	if !ok {
		rw = &Rewards{
			NarrativeID:     act.NarrativeID,
			Staker:          act.Staker,
			TotalEarned:     decimal.Zero,
			Pending:         decimal.Zero,
			NextClaimableAt: act.Timestamp,
		}
		s.rewards[key] = rw
	}
	if len(prev.History) == 0 {
		return nil
	}

	last := prev.History[len(prev.History)-1].Timestamp
	elapsed := act.Timestamp.Sub(last)
	if elapsed > s.cfg.AccrualCap {
		elapsed = s.cfg.AccrualCap
	}
	if elapsed <= 0 {
		return nil
	}

	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return err
	}
	apy := s.apy(snap, act.NarrativeID)
	hourly := apy / 100 / (365 * 24)
	earned := prev.TotalStaked.Mul(decimal.NewFromFloat(hourly * elapsed.Hours()))
	rw.Pending = rw.Pending.Add(earned).Round(6)
	return nil
}

// Position returns the staker's position on a narrative, derived from the ledger.
func (s *Service) Position(ctx context.Context, narrativeID int64, staker string) (*Position, error) {
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	p := positionFrom(snap, narrativeID, strings.ToLower(staker))
	s.project(snap, &p)
	return &p, nil
}

// Positions returns every position held by staker, largest first.
func (s *Service) Positions(ctx context.Context, staker string) ([]Position, error) {
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	staker = strings.ToLower(staker)
	var out []Position
	for _, id := range snap.NarrativeIDs() {
		p := positionFrom(snap, id, staker)
		if len(p.History) == 0 {
			continue
		}
		s.project(snap, &p)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalStaked.GreaterThan(out[j].TotalStaked) })
	return out, nil
}

// NarrativeTotalStake sums every position on the narrative.
func (s *Service) NarrativeTotalStake(ctx context.Context, narrativeID int64) (decimal.Decimal, error) {
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return totalStake(snap, narrativeID), nil
}

// APY returns the narrative's annual percentage yield, or 0 without recent activity
// or stake.
func (s *Service) APY(ctx context.Context, narrativeID int64) (float64, error) {
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return s.apy(snap, narrativeID), nil
}

func (s *Service) apy(snap *ledger.Snapshot, id int64) float64 {
	n := snap.Count(id, s.cfg.Window)
	if n == 0 {
		return 0
	}
	if !totalStake(snap, id).IsPositive() {
		return 0
	}
	velocity := snap.Volume(id, s.cfg.Window).InexactFloat64()
	activity := min(s.cfg.MaxActivityBonus, float64(n)*s.cfg.ActivityBonus)
	vel := min(s.cfg.MaxVelocityBonus, velocity/s.cfg.VelocityDivisor)
	return s.cfg.BaseAPY + activity + vel
}

func (s *Service) project(snap *ledger.Snapshot, p *Position) {
	apy := s.apy(snap, p.NarrativeID)
	p.ProjectedRewards = p.TotalStaked.Mul(decimal.NewFromFloat(apy)).
		Div(decimal.NewFromInt(100)).Div(decimal.NewFromInt(365)).Round(4)
}

// Rewards returns the accrued rewards for a position, or errs.ErrNotFound.
func (s *Service) Rewards(narrativeID int64, staker string) (*Rewards, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rw, ok := s.rewards[positionKey{narrativeID, strings.ToLower(staker)}]
	if !ok {
		return nil, goerr.Wrap(errs.ErrNotFound, "no rewards for position",
			goerr.V(errs.NarrativeIDKey, narrativeID), goerr.V(errs.StakerKey, staker))
	}
	c := *rw
	return &c, nil
}

// ClaimRewards moves pending rewards into the earned total and returns the claimed
// amount. It fails with errs.ErrNoRewards when nothing is pending.
func (s *Service) ClaimRewards(narrativeID int64, staker string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rw, ok := s.rewards[positionKey{narrativeID, strings.ToLower(staker)}]
	if !ok || rw.Pending.IsZero() {
		return decimal.Zero, goerr.Wrap(errs.ErrNoRewards, "no pending rewards to claim",
			goerr.V(errs.NarrativeIDKey, narrativeID), goerr.V(errs.StakerKey, staker))
	}
	claimed := rw.Pending
	now := s.ledger.Now()
	rw.TotalEarned = rw.TotalEarned.Add(claimed)
	rw.Pending = decimal.Zero
	rw.LastClaimedAt = now
	rw.NextClaimableAt = now.Add(s.cfg.ClaimInterval)
	return claimed, nil
}

// Statistics reports TVL, active stakers, the average APY and the ten most staked
// narratives.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	view, err := s.engine.View(ctx)
	if err != nil {
		return nil, err
	}
	mm := view.MarketMetrics()
	snap := view.Snapshot()

	st := &Statistics{
		TotalValueLocked: mm.TotalValueLocked,
		ActiveStakers:    mm.ActiveStakers,
		TopStaked:        []NarrativeStake{},
	}
	ids := snap.NarrativeIDs()
	total := 0.0
	for _, id := range ids {
		apy := s.apy(snap, id)
		total += apy
		st.TopStaked = append(st.TopStaked, NarrativeStake{NarrativeID: id, TotalStaked: totalStake(snap, id), APY: apy})
	}
	if len(ids) > 0 {
		st.AverageAPY = total / float64(len(ids))
	}
	sort.SliceStable(st.TopStaked, func(i, j int) bool {
		return st.TopStaked[i].TotalStaked.GreaterThan(st.TopStaked[j].TotalStaked)
	})
	if len(st.TopStaked) > 10 {
		st.TopStaked = st.TopStaked[:10]
	}
	return st, nil
}

// positionFrom replays the staker's activities on a narrative, clamping at zero.
func positionFrom(snap *ledger.Snapshot, id int64, staker string) Position {
	p := Position{NarrativeID: id, Staker: staker, TotalStaked: decimal.Zero, History: []model.Activity{}}
	for _, a := range snap.For(id) {
		if a.Staker != staker {
			continue
		}
		p.History = append(p.History, a)
		p.TotalStaked = p.TotalStaked.Add(a.Signed())
		if p.TotalStaked.IsNegative() {
			p.TotalStaked = decimal.Zero
		}
	}
	return p
}

// totalStake replays the narrative once, clamping each staker's running
// position at zero, and sums the positions.
func totalStake(snap *ledger.Snapshot, id int64) decimal.Decimal {
	positions := map[string]decimal.Decimal{}
	for _, a := range snap.For(id) {
		p := positions[a.Staker].Add(a.Signed())
		if p.IsNegative() {
			p = decimal.Zero
		}
		positions[a.Staker] = p
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p)
	}
	return total
}
