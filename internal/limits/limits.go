// Package limits enforces the stake range accepted by both games.
//
// Stakes are validated before any lock is taken or balance is debited, so a
// rejected stake never mutates round or ledger state.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
)

var (
	// ErrStakeNotPositive is returned for zero or negative stakes.
	ErrStakeNotPositive = errors.New("limits: stake must be positive")

	// ErrStakeBelowMinimum is returned when a stake is under MinStake.
	ErrStakeBelowMinimum = errors.New("limits: stake below minimum")

	// ErrStakeAboveMaximum is returned when a stake exceeds MaxStake.
	ErrStakeAboveMaximum = errors.New("limits: stake above maximum")

	// ErrStakePrecision is returned when a stake has more than two decimals.
	ErrStakePrecision = errors.New("limits: stake must not have fractional cents")
)

// StakeLimiter validates stakes against a configured range.
type StakeLimiter struct {
	// MinStake is the smallest accepted stake.
	MinStake decimal.Decimal

	// MaxStake is the largest accepted stake. Zero disables the cap.
	MaxStake decimal.Decimal
}

// NewStakeLimiter creates a limiter. A non-positive minimum falls back to
// one cent.
func NewStakeLimiter(minStake, maxStake decimal.Decimal) *StakeLimiter {
	oneCent := decimal.New(1, -model.MoneyScale)
	if minStake.LessThan(oneCent) {
		minStake = oneCent
	}
	return &StakeLimiter{
		MinStake: minStake,
		MaxStake: maxStake,
	}
}

// Check returns nil if stake is acceptable, or an error describing the
// violation.
func (l *StakeLimiter) Check(stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return ErrStakeNotPositive
	}
	if !stake.Equal(stake.Truncate(model.MoneyScale)) {
		return ErrStakePrecision
	}
	if stake.LessThan(l.MinStake) {
		return ErrStakeBelowMinimum
	}
	if l.MaxStake.IsPositive() && stake.GreaterThan(l.MaxStake) {
		return ErrStakeAboveMaximum
	}
	return nil
}
