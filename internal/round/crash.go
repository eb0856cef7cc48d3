package round

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/odds"
)

// crashRound is the mutable state of one Crash round.
type crashRound struct {
	id         string
	phase      model.Phase
	stake      decimal.Decimal
	crashPoint float64
	multiplier float64
	startedAt  time.Time
	profit     decimal.Decimal // set on resolution
}

// CrashEngine runs Crash rounds: Idle → Playing → Crashed | CashedOut.
// A resolved round stays visible until the next Start.
type CrashEngine struct {
	deps  Deps
	mu    sync.Mutex
	round crashRound
}

// NewCrashEngine creates an idle engine. deps.Ledger and deps.Odds are
// required.
func NewCrashEngine(deps Deps) *CrashEngine {
	return &CrashEngine{
		deps:  deps.withDefaults(),
		round: crashRound{phase: model.PhaseIdle, multiplier: 1},
	}
}

// Start debits stake and begins a round with a freshly drawn crash point.
func (e *CrashEngine) Start(ctx context.Context, stake decimal.Decimal) (model.CrashState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.deps.checkFree(model.GameCrash); err != nil {
		return e.stateLocked(), err
	}
	if err := e.deps.checkStake(model.GameCrash, stake); err != nil {
		return e.stateLocked(), err
	}
	if err := e.deps.acquire(ctx, model.GameCrash, stake); err != nil {
		return e.stateLocked(), err
	}

	e.round = crashRound{
		id:         uuid.New().String(),
		phase:      model.PhasePlaying,
		stake:      stake,
		crashPoint: e.deps.Odds.CrashPoint(e.deps.Source),
		multiplier: 1,
		startedAt:  e.deps.Clock.Now().UTC(),
	}

	slog.Info("crash round started",
		"round_id", e.round.id,
		"stake", stake.String(),
	)

	st := e.stateLocked()
	e.deps.Notifier.Notify(Event{Type: EventRoundStarted, Game: model.GameCrash, Payload: st})
	return st, nil
}

// Tick advances the multiplier by dt. Once the multiplier reaches the crash
// point the round crashes: the stake is lost and the result recorded.
// Ticks outside Playing, or with dt ≤ 0, change nothing. The returned
// resolution is nil unless this tick crashed the round.
func (e *CrashEngine) Tick(ctx context.Context, dt time.Duration) (*model.Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round.phase != model.PhasePlaying || dt <= 0 {
		return nil, nil
	}

	m := e.deps.Odds.CrashGrowth(e.round.multiplier, dt.Seconds())
	if m < e.round.crashPoint {
		e.round.multiplier = m
		e.deps.Notifier.Notify(Event{Type: EventTick, Game: model.GameCrash, Payload: e.stateLocked()})
		return nil, nil
	}

	e.round.multiplier = e.round.crashPoint
	e.round.phase = model.PhaseCrashed
	e.round.profit = e.round.stake.Neg()

	res, err := e.deps.settle(ctx, model.GameCrash, e.round.id, e.round.stake, decimal.Zero, model.PhaseCrashed)
	e.deps.Notifier.Notify(Event{Type: EventCrashed, Game: model.GameCrash, Payload: e.stateLocked()})
	return &res, err
}

// CashOut pays stake·multiplier, rounded to cents, and ends the round.
func (e *CrashEngine) CashOut(ctx context.Context) (model.Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round.phase != model.PhasePlaying {
		return model.Resolution{}, reject(model.GameCrash, ErrNoActiveRound)
	}

	payout, profit := odds.Settle(e.round.stake, e.round.multiplier)
	e.round.phase = model.PhaseCashedOut
	e.round.profit = profit

	res, err := e.deps.settle(ctx, model.GameCrash, e.round.id, e.round.stake, payout, model.PhaseCashedOut)
	e.deps.Notifier.Notify(Event{Type: EventCashedOut, Game: model.GameCrash, Payload: e.stateLocked()})
	return res, err
}

// State returns a snapshot of the current or most recent round.
func (e *CrashEngine) State() model.CrashState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Playing reports whether a round is in progress.
func (e *CrashEngine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.phase == model.PhasePlaying
}

func (e *CrashEngine) stateLocked() model.CrashState {
	r := e.round
	st := model.CrashState{
		RoundID:    r.id,
		Phase:      r.phase,
		Stake:      r.stake,
		Multiplier: r.multiplier,
		StartedAt:  r.startedAt,
	}
	switch {
	case r.phase == model.PhasePlaying:
		st.LiveProfit = liveProfit(r.stake, r.multiplier)
	case r.phase.Terminal():
		st.CrashPoint = r.crashPoint
		st.LiveProfit = r.profit
	}
	return st
}
