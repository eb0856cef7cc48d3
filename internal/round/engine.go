// Package round runs the Crash and Mines round state machines and the
// coordinator that keeps at most one round active across both games.
//
// Every command either succeeds or is rejected before it changes anything:
// validation happens before the round lock is taken, and the lock is taken
// before the stake is debited. Every terminal transition settles through the
// ledger and releases the lock.
package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/limits"
	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/odds"
	"github.com/atmx/wager-engine/internal/rng"
)

var (
	ErrInsufficientBalance = errors.New("round: insufficient balance")
	ErrRoundInProgress     = errors.New("round: another round is in progress")
	ErrInvalidMineCount    = errors.New("round: invalid mine count")
	ErrInvalidStake        = errors.New("round: invalid stake")
	ErrNoActiveRound       = errors.New("round: no active round")
	ErrInvalidTile         = errors.New("round: invalid tile")

	// ErrPersistenceFailure is returned alongside a resolution whose result
	// could not be written. The ledger keeps the in-memory result and
	// reports degraded mode until a later write succeeds.
	ErrPersistenceFailure = errors.New("round: result not persisted")
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Event types published to a Notifier.
const (
	EventRoundStarted = "round_started"
	EventTick         = "tick"
	EventCrashed      = "crashed"
	EventCashedOut    = "cashed_out"
	EventRevealed     = "revealed"
	EventLost         = "lost"
	EventToppedUp     = "topped_up"
)

// Event is a round state change pushed to observers.
type Event struct {
	Type    string         `json:"type"`
	Game    model.GameType `json:"game,omitempty"`
	Payload any            `json:"payload"`
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// Deps are the collaborators shared by both engines.
type Deps struct {
	Lock     *Lock
	Ledger   *ledger.Ledger
	Odds     *odds.Calculator
	Source   rng.Source
	Limiter  *limits.StakeLimiter
	Clock    Clock
	Notifier Notifier
}

func (d Deps) withDefaults() Deps {
	if d.Lock == nil {
		d.Lock = NewLock()
	}
	if d.Source == nil {
		d.Source = rng.Default()
	}
	if d.Limiter == nil {
		d.Limiter = limits.NewStakeLimiter(decimal.Zero, decimal.Zero)
	}
	if d.Clock == nil {
		d.Clock = SystemClock
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	return d
}

// checkFree rejects a start while any game holds the lock.
func (d Deps) checkFree(game model.GameType) error {
	if holder, held := d.Lock.Holder(); held {
		return reject(game, fmt.Errorf("%w: %s round active", ErrRoundInProgress, holder))
	}
	return nil
}

// checkStake validates the stake against the limiter and the balance.
// A non-positive stake can never be covered, so it counts as insufficient
// balance; other limit violations are invalid stakes.
func (d Deps) checkStake(game model.GameType, stake decimal.Decimal) error {
	if err := d.Limiter.Check(stake); err != nil {
		if errors.Is(err, limits.ErrStakeNotPositive) {
			return reject(game, fmt.Errorf("%w: %v", ErrInsufficientBalance, err))
		}
		return reject(game, fmt.Errorf("%w: %v", ErrInvalidStake, err))
	}
	if stake.GreaterThan(d.Ledger.Balance()) {
		return reject(game, ErrInsufficientBalance)
	}
	return nil
}

// acquire takes the lock and then debits the stake. A failed debit gives
// the lock back.
func (d Deps) acquire(ctx context.Context, game model.GameType, stake decimal.Decimal) error {
	if !d.Lock.TryAcquire(game) {
		return reject(game, ErrRoundInProgress)
	}
	if err := d.Ledger.Debit(ctx, stake); err != nil {
		d.Lock.Release(game)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return reject(game, ErrInsufficientBalance)
		}
		return reject(game, fmt.Errorf("debit stake: %w", err))
	}
	metrics.StakeTotal.WithLabelValues(string(game)).Add(stake.InexactFloat64())
	return nil
}

// settle credits payout, records the result and releases the lock. The lock
// is released even when persistence fails.
func (d Deps) settle(ctx context.Context, game model.GameType, roundID string, stake, payout decimal.Decimal, phase model.Phase) (model.Resolution, error) {
	defer d.Lock.Release(game)

	rec := model.ResultRecord{
		ID:        roundID,
		Game:      game,
		Stake:     stake,
		Payout:    payout,
		Profit:    payout.Sub(stake),
		Timestamp: d.Clock.Now().UTC(),
	}
	bal, err := d.Ledger.Settle(ctx, rec)
	res := model.Resolution{
		Record:    rec,
		Phase:     phase,
		Balance:   bal,
		Persisted: err == nil,
	}

	metrics.RoundsTotal.WithLabelValues(string(game), string(phase)).Inc()
	metrics.PayoutTotal.WithLabelValues(string(game)).Add(payout.InexactFloat64())
	slog.Info("round resolved",
		"game", game,
		"round_id", roundID,
		"outcome", phase,
		"stake", stake.String(),
		"payout", payout.String(),
		"profit", rec.Profit.String(),
	)

	if err != nil {
		slog.Error("round result not persisted", "game", game, "round_id", roundID, "err", err)
		return res, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return res, nil
}

func reject(game model.GameType, err error) error {
	metrics.RejectedCommands.WithLabelValues(string(game), rejectReason(err)).Inc()
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrRoundInProgress):
		return "round_in_progress"
	case errors.Is(err, ErrInvalidMineCount):
		return "invalid_mine_count"
	case errors.Is(err, ErrInvalidStake):
		return "invalid_stake"
	case errors.Is(err, ErrNoActiveRound):
		return "no_active_round"
	case errors.Is(err, ErrInvalidTile):
		return "invalid_tile"
	default:
		return "other"
	}
}

// liveProfit is round2(stake·m) - stake.
func liveProfit(stake decimal.Decimal, multiplier float64) decimal.Decimal {
	_, profit := odds.Settle(stake, multiplier)
	return profit
}
