package round

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/odds"
	"github.com/atmx/wager-engine/internal/rng"
)

// minesRound is the mutable state of one Mines round.
type minesRound struct {
	id           string
	phase        model.Phase
	stake        decimal.Decimal
	mineCount    int
	board        map[int]bool // mine tiles
	revealed     []int        // reveal order
	seen         map[int]bool
	safeRevealed int
	profit       decimal.Decimal // set on resolution
}

// MinesEngine runs Mines rounds: Idle → Playing → Lost | CashedOut.
// A resolved round stays visible until the next Start.
type MinesEngine struct {
	deps  Deps
	tiles int
	mu    sync.Mutex
	round minesRound
}

// NewMinesEngine creates an idle engine. deps.Ledger and deps.Odds are
// required.
func NewMinesEngine(deps Deps) *MinesEngine {
	deps = deps.withDefaults()
	return &MinesEngine{
		deps:  deps,
		tiles: deps.Odds.TotalTiles(),
		round: minesRound{phase: model.PhaseIdle},
	}
}

// Start validates the mine count and stake, debits the stake and lays a
// fresh board.
func (e *MinesEngine) Start(ctx context.Context, stake decimal.Decimal, mineCount int) (model.MinesState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.deps.checkFree(model.GameMines); err != nil {
		return e.stateLocked(), err
	}
	if err := odds.ValidateBoard(mineCount, e.tiles); err != nil {
		return e.stateLocked(), reject(model.GameMines, fmt.Errorf("%w: %v", ErrInvalidMineCount, err))
	}
	if err := e.deps.checkStake(model.GameMines, stake); err != nil {
		return e.stateLocked(), err
	}
	board := drawBoard(e.deps.Source, mineCount, e.tiles)
	if err := e.deps.acquire(ctx, model.GameMines, stake); err != nil {
		return e.stateLocked(), err
	}

	e.round = minesRound{
		id:        uuid.New().String(),
		phase:     model.PhasePlaying,
		stake:     stake,
		mineCount: mineCount,
		board:     board,
		seen:      make(map[int]bool),
	}

	slog.Info("mines round started",
		"round_id", e.round.id,
		"stake", stake.String(),
		"mines", mineCount,
	)

	st := e.stateLocked()
	e.deps.Notifier.Notify(Event{Type: EventRoundStarted, Game: model.GameMines, Payload: st})
	return st, nil
}

// maxBoardDraws bounds rejection sampling per tile on the board.
const maxBoardDraws = 64

// drawBoard picks mineCount distinct tiles by rejection sampling: draws that
// land on an existing mine are discarded until the set is full. After
// maxBoardDraws*tiles draws the remaining mines are placed by a partial
// Fisher-Yates shuffle over the free tiles, which always terminates.
func drawBoard(src rng.Source, mineCount, tiles int) map[int]bool {
	board := make(map[int]bool, mineCount)
	for n := 0; len(board) < mineCount && n < maxBoardDraws*tiles; n++ {
		board[pick(src, tiles)] = true
	}
	if len(board) == mineCount {
		return board
	}

	free := make([]int, 0, tiles-len(board))
	for idx := 0; idx < tiles; idx++ {
		if !board[idx] {
			free = append(free, idx)
		}
	}
	for i := 0; len(board) < mineCount; i++ {
		j := i + pick(src, len(free)-i)
		free[i], free[j] = free[j], free[i]
		board[free[i]] = true
	}
	return board
}

// pick maps one draw onto [0, n).
func pick(src rng.Source, n int) int {
	idx := int(src.Float64() * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Reveal uncovers tile. Hitting a mine loses the stake; clearing every safe
// tile cashes out automatically at the top multiplier. Revealing a tile twice
// changes nothing. The returned resolution is nil while the round goes on.
func (e *MinesEngine) Reveal(ctx context.Context, tile int) (*model.Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round.phase != model.PhasePlaying {
		return nil, reject(model.GameMines, ErrNoActiveRound)
	}
	if tile < 0 || tile >= e.tiles {
		return nil, reject(model.GameMines, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidTile, tile, e.tiles))
	}
	if e.round.seen[tile] {
		return nil, nil
	}

	e.round.seen[tile] = true
	e.round.revealed = append(e.round.revealed, tile)

	if e.round.board[tile] {
		e.round.phase = model.PhaseLost
		e.round.profit = e.round.stake.Neg()
		res, err := e.deps.settle(ctx, model.GameMines, e.round.id, e.round.stake, decimal.Zero, model.PhaseLost)
		e.deps.Notifier.Notify(Event{Type: EventLost, Game: model.GameMines, Payload: e.stateLocked()})
		return &res, err
	}

	e.round.safeRevealed++
	if e.round.safeRevealed == e.tiles-e.round.mineCount {
		res, err := e.cashOutLocked(ctx)
		return &res, err
	}

	e.deps.Notifier.Notify(Event{Type: EventRevealed, Game: model.GameMines, Payload: e.stateLocked()})
	return nil, nil
}

// CashOut pays stake·multiplier(k) for the k safe tiles revealed so far. It
// needs at least one safe reveal.
func (e *MinesEngine) CashOut(ctx context.Context) (model.Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round.phase != model.PhasePlaying {
		return model.Resolution{}, reject(model.GameMines, ErrNoActiveRound)
	}
	if e.round.safeRevealed == 0 {
		return model.Resolution{}, reject(model.GameMines, fmt.Errorf("%w: reveal a tile before cashing out", ErrNoActiveRound))
	}
	return e.cashOutLocked(ctx)
}

func (e *MinesEngine) cashOutLocked(ctx context.Context) (model.Resolution, error) {
	mult, err := e.deps.Odds.MinesMultiplier(e.round.safeRevealed, e.round.mineCount)
	if err != nil {
		// Unreachable for a board that passed Start validation.
		return model.Resolution{}, err
	}
	payout, profit := odds.Settle(e.round.stake, mult)
	e.round.phase = model.PhaseCashedOut
	e.round.profit = profit

	res, err := e.deps.settle(ctx, model.GameMines, e.round.id, e.round.stake, payout, model.PhaseCashedOut)
	e.deps.Notifier.Notify(Event{Type: EventCashedOut, Game: model.GameMines, Payload: e.stateLocked()})
	return res, err
}

// State returns a snapshot of the current or most recent round. Mine
// positions are included only after the round has ended.
func (e *MinesEngine) State() model.MinesState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *MinesEngine) stateLocked() model.MinesState {
	r := e.round
	st := model.MinesState{
		RoundID:      r.id,
		Phase:        r.phase,
		Stake:        r.stake,
		MineCount:    r.mineCount,
		TotalTiles:   e.tiles,
		Revealed:     append([]int{}, r.revealed...),
		SafeRevealed: r.safeRevealed,
	}
	if r.phase == model.PhaseIdle {
		return st
	}

	if m, err := e.deps.Odds.MinesMultiplier(r.safeRevealed, r.mineCount); err == nil {
		st.Multiplier = m
	}
	switch {
	case r.phase == model.PhasePlaying && r.safeRevealed > 0:
		st.LiveProfit = liveProfit(r.stake, st.Multiplier)
	case r.phase.Terminal():
		st.LiveProfit = r.profit
		st.Mines = make([]int, 0, len(r.board))
		for idx := range r.board {
			st.Mines = append(st.Mines, idx)
		}
		sort.Ints(st.Mines)
	}
	return st
}
