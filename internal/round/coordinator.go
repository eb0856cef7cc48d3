package round

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/model"
)

// Coordinator routes commands to the two engines. Commands are serialized
// with a mutex (single instance), so a start on one game cannot interleave
// with a tick or reveal on the other.
type Coordinator struct {
	mu    sync.Mutex
	deps  Deps
	crash *CrashEngine
	mines *MinesEngine
	topUp decimal.Decimal
	last  model.GameType // most recently started game
}

// NewCoordinator wires both engines to one lock and one ledger.
// topUpAmount is used when TopUp is called with a zero amount.
func NewCoordinator(deps Deps, topUpAmount decimal.Decimal) *Coordinator {
	deps = deps.withDefaults()
	return &Coordinator{
		deps:  deps,
		crash: NewCrashEngine(deps),
		mines: NewMinesEngine(deps),
		topUp: topUpAmount,
	}
}

// --- Crash ---

// StartCrash begins a Crash round.
func (c *Coordinator) StartCrash(ctx context.Context, stake decimal.Decimal) (model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.crash.Start(ctx, stake); err != nil {
		return c.snapshotLocked(), err
	}
	c.last = model.GameCrash
	return c.snapshotLocked(), nil
}

// Tick forwards dt to the Crash engine.
func (c *Coordinator) Tick(ctx context.Context, dt time.Duration) (*model.Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crash.Tick(ctx, dt)
}

// CashOutCrash cashes out the active Crash round.
func (c *Coordinator) CashOutCrash(ctx context.Context) (model.Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crash.CashOut(ctx)
}

// CrashPlaying reports whether a Crash round is in progress.
func (c *Coordinator) CrashPlaying() bool {
	return c.crash.Playing()
}

// --- Mines ---

// StartMines begins a Mines round with mineCount mines.
func (c *Coordinator) StartMines(ctx context.Context, stake decimal.Decimal, mineCount int) (model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.mines.Start(ctx, stake, mineCount); err != nil {
		return c.snapshotLocked(), err
	}
	c.last = model.GameMines
	return c.snapshotLocked(), nil
}

// Reveal uncovers a tile in the active Mines round.
func (c *Coordinator) Reveal(ctx context.Context, tile int) (model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.mines.Reveal(ctx, tile)
	return c.snapshotLocked(), err
}

// CashOutMines cashes out the active Mines round.
func (c *Coordinator) CashOutMines(ctx context.Context) (model.Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mines.CashOut(ctx)
}

// --- Wallet ---

// TopUp credits amount, or the configured default when amount is zero.
func (c *Coordinator) TopUp(ctx context.Context, amount decimal.Decimal) (model.TopUp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if amount.IsZero() {
		amount = c.topUp
	}
	if !amount.Equal(amount.Truncate(model.MoneyScale)) {
		return model.TopUp{}, fmt.Errorf("%w: top-up must not have fractional cents", ledger.ErrInvalidAmount)
	}
	t, err := c.deps.Ledger.TopUp(ctx, amount)
	if err != nil {
		if t.Amount.IsZero() {
			return t, err
		}
		// Credited in memory but not written.
		err = fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	slog.Info("balance topped up", "amount", amount.String(), "balance", c.deps.Ledger.Balance().String())
	c.deps.Notifier.Notify(Event{Type: EventToppedUp, Payload: c.snapshotLocked()})
	return t, err
}

// History returns up to limit recent records, most recent first; limit ≤ 0
// returns all.
func (c *Coordinator) History(limit int) []model.ResultRecord {
	recs := c.deps.Ledger.Records(limit)
	slices.Reverse(recs)
	return recs
}

// Stats returns the running totals.
func (c *Coordinator) Stats() model.Statistics {
	return c.deps.Ledger.Stats()
}

// --- Snapshot ---

// Snapshot returns the presentation view: the active game (or the last one
// played) with balance, live profit and both round states.
func (c *Coordinator) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() model.Snapshot {
	s := model.Snapshot{
		Phase:    model.PhaseIdle,
		Balance:  c.deps.Ledger.Balance(),
		Crash:    c.crash.State(),
		Mines:    c.mines.State(),
		Stats:    c.deps.Ledger.Stats(),
		Degraded: c.deps.Ledger.Degraded(),
	}

	game := c.last
	if holder, held := c.deps.Lock.Holder(); held {
		game = holder
		s.ActiveGame = holder
	}
	switch game {
	case model.GameCrash:
		s.Phase = s.Crash.Phase
		s.LiveProfit = s.Crash.LiveProfit
	case model.GameMines:
		s.Phase = s.Mines.Phase
		s.LiveProfit = s.Mines.LiveProfit
	}
	return s
}

// Verify replays the history and checks it against the running totals.
func (c *Coordinator) Verify() error {
	return c.deps.Ledger.Verify()
}
