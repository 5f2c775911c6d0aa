// Package model defines the core narrative market data types.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the kind of a staking activity.
type Action string

const (
	ActionStake   Action = "stake"
	ActionUnstake Action = "unstake"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionStake || a == ActionUnstake
}

// Activity is one immutable stake or unstake record in the ledger.
type Activity struct {
	ID          string          `json:"id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	NarrativeID int64           `json:"narrative_id"`
	Staker      string          `json:"staker"`
	Amount      decimal.Decimal `json:"amount"`
	Action      Action          `json:"action"`
}

// Signed returns the amount as a net position change: positive for stakes, negative for unstakes.
func (a Activity) Signed() decimal.Decimal {
	if a.Action == ActionUnstake {
		return a.Amount.Neg()
	}
	return a.Amount
}
