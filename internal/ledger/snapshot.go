package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcliao/narrative-market/internal/model"
)

// Snapshot is an immutable view of the ledger at one instant. All aggregation
// primitives read from it so a computation never observes a concurrent append.
type Snapshot struct {
	At time.Time

	activities []model.Activity
	byID       map[int64][]model.Activity
	order      []int64
}

// NewSnapshot indexes acts, which must be in append order.
func NewSnapshot(at time.Time, acts []model.Activity) *Snapshot {
	s := &Snapshot{
		At:         at,
		activities: acts,
		byID:       make(map[int64][]model.Activity),
	}
	for _, a := range acts {
		if _, ok := s.byID[a.NarrativeID]; !ok {
			s.order = append(s.order, a.NarrativeID)
		}
		s.byID[a.NarrativeID] = append(s.byID[a.NarrativeID], a)
	}
	return s
}

// Len returns the number of activities.
func (s *Snapshot) Len() int { return len(s.activities) }

// Activities returns all activities in append order.
func (s *Snapshot) Activities() []model.Activity { return s.activities }

// NarrativeIDs lists every narrative with at least one activity, in order of first activity.
func (s *Snapshot) NarrativeIDs() []int64 { return s.order }

// Has reports whether the narrative has any activity.
func (s *Snapshot) Has(id int64) bool {
	_, ok := s.byID[id]
	return ok
}

// For returns the narrative's activities in append order.
func (s *Snapshot) For(id int64) []model.Activity { return s.byID[id] }

// Cutoff returns At minus window.
func (s *Snapshot) Cutoff(window time.Duration) time.Time {
	return s.At.Add(-window)
}

// Volume sums stake and unstake magnitudes at or after At-window.
func (s *Snapshot) Volume(id int64, window time.Duration) decimal.Decimal {
	cutoff := s.Cutoff(window)
	sum := decimal.Zero
	for _, a := range s.byID[id] {
		if !a.Timestamp.Before(cutoff) {
			sum = sum.Add(a.Amount)
		}
	}
	return sum
}

// NetSplit sums signed amounts strictly before and at-or-after At-window.
func (s *Snapshot) NetSplit(id int64, window time.Duration) (before, after decimal.Decimal) {
	cutoff := s.Cutoff(window)
	before, after = decimal.Zero, decimal.Zero
	for _, a := range s.byID[id] {
		if a.Timestamp.Before(cutoff) {
			before = before.Add(a.Signed())
		} else {
			after = after.Add(a.Signed())
		}
	}
	return before, after
}

// TotalStaked replays the narrative's activities in append order, clamping the running
// total at zero whenever an unstake exceeds it.
func (s *Snapshot) TotalStaked(id int64) decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.byID[id] {
		total = total.Add(a.Signed())
		if total.IsNegative() {
			total = decimal.Zero
		}
	}
	return total
}

// UniqueStakers counts distinct stakers over the narrative's whole history.
func (s *Snapshot) UniqueStakers(id int64) int {
	seen := make(map[string]struct{})
	for _, a := range s.byID[id] {
		seen[a.Staker] = struct{}{}
	}
	return len(seen)
}

// CreatedAt is the timestamp of the narrative's first activity, or zero.
func (s *Snapshot) CreatedAt(id int64) time.Time {
	acts := s.byID[id]
	if len(acts) == 0 {
		return time.Time{}
	}
	return acts[0].Timestamp
}

// ActiveStakers counts distinct stakers across all narratives at or after At-window.
func (s *Snapshot) ActiveStakers(window time.Duration) int {
	cutoff := s.Cutoff(window)
	seen := make(map[string]struct{})
	for _, a := range s.activities {
		if !a.Timestamp.Before(cutoff) {
			seen[a.Staker] = struct{}{}
		}
	}
	return len(seen)
}

// FlowSummary is the market-wide stake and unstake flow inside a window.
type FlowSummary struct {
	Stakes       decimal.Decimal
	Unstakes     decimal.Decimal
	StakeCount   int
	UnstakeCount int
}

// Total is the number of activities in the window.
func (f FlowSummary) Total() int { return f.StakeCount + f.UnstakeCount }

// Flow sums and counts stake and unstake activities at or after At-window.
func (s *Snapshot) Flow(window time.Duration) FlowSummary {
	cutoff := s.Cutoff(window)
	f := FlowSummary{Stakes: decimal.Zero, Unstakes: decimal.Zero}
	for _, a := range s.activities {
		if a.Timestamp.Before(cutoff) {
			continue
		}
		if a.Action == model.ActionStake {
			f.Stakes = f.Stakes.Add(a.Amount)
			f.StakeCount++
		} else {
			f.Unstakes = f.Unstakes.Add(a.Amount)
			f.UnstakeCount++
		}
	}
	return f
}

// Count returns how many of the narrative's activities fall at or after At-window.
func (s *Snapshot) Count(id int64, window time.Duration) int {
	cutoff := s.Cutoff(window)
	n := 0
	for _, a := range s.byID[id] {
		if !a.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}
