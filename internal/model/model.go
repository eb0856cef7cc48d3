// Package model defines the core domain types shared across the wager engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for balances, stakes
// and payouts.
const MoneyScale int32 = 2

// GameType identifies which mini-game produced a round.
type GameType string

const (
	GameCrash GameType = "crash"
	GameMines GameType = "mines"
)

// Phase is the lifecycle state of a round.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePlaying   Phase = "playing"
	PhaseCrashed   Phase = "crashed"
	PhaseLost      Phase = "lost"
	PhaseCashedOut Phase = "cashed_out"
)

// Terminal reports whether the phase ends a round.
func (p Phase) Terminal() bool {
	return p == PhaseCrashed || p == PhaseLost || p == PhaseCashedOut
}

// ResultRecord is an immutable record of a resolved round.
// Once created, these are never modified or deleted.
type ResultRecord struct {
	ID        string          `json:"id"`
	Game      GameType        `json:"game"`
	Stake     decimal.Decimal `json:"stake"`
	Payout    decimal.Decimal `json:"payout"`
	Profit    decimal.Decimal `json:"profit"` // payout - stake
	Timestamp time.Time       `json:"timestamp"`
}

// TopUp is an immutable record of a balance top-up.
type TopUp struct {
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Statistics are running totals derived from the record stream.
// Every field is a non-negative sum.
type Statistics struct {
	TotalBet      decimal.Decimal `json:"totalBet"`
	TotalWon      decimal.Decimal `json:"totalWon"`
	TotalLost     decimal.Decimal `json:"totalLost"`
	TotalToppedUp decimal.Decimal `json:"totalToppedUp"`
}

// ApplyResult folds one resolved round into the totals.
func (s Statistics) ApplyResult(r ResultRecord) Statistics {
	s.TotalBet = s.TotalBet.Add(r.Stake)
	switch {
	case r.Profit.IsPositive():
		s.TotalWon = s.TotalWon.Add(r.Profit)
	case r.Profit.IsNegative():
		s.TotalLost = s.TotalLost.Add(r.Profit.Abs())
	}
	return s
}

// ApplyTopUp folds one top-up into the totals.
func (s Statistics) ApplyTopUp(t TopUp) Statistics {
	s.TotalToppedUp = s.TotalToppedUp.Add(t.Amount)
	return s
}

// Equal compares totals by value.
func (s Statistics) Equal(o Statistics) bool {
	return s.TotalBet.Equal(o.TotalBet) &&
		s.TotalWon.Equal(o.TotalWon) &&
		s.TotalLost.Equal(o.TotalLost) &&
		s.TotalToppedUp.Equal(o.TotalToppedUp)
}

// History is the persisted ledger document: {stats, records, topUps}.
type History struct {
	Stats   Statistics     `json:"stats"`
	Records []ResultRecord `json:"records"`
	TopUps  []TopUp        `json:"topUps"`
}

// Resolution is returned when a round reaches a terminal state through a
// player action.
type Resolution struct {
	Record    ResultRecord    `json:"record"`
	Phase     Phase           `json:"phase"`
	Balance   decimal.Decimal `json:"balance"`
	Persisted bool            `json:"persisted"`
}

// CrashState is the observable part of a Crash round. CrashPoint stays
// hidden while the round is playing.
type CrashState struct {
	RoundID    string          `json:"round_id,omitempty"`
	Phase      Phase           `json:"phase"`
	Stake      decimal.Decimal `json:"stake"`
	Multiplier float64         `json:"multiplier"`
	CrashPoint float64         `json:"crash_point,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	LiveProfit decimal.Decimal `json:"live_profit"`
}

// MinesState is the observable part of a Mines round. Mine positions are
// only exposed once the round is over.
type MinesState struct {
	RoundID      string          `json:"round_id,omitempty"`
	Phase        Phase           `json:"phase"`
	Stake        decimal.Decimal `json:"stake"`
	MineCount    int             `json:"mine_count"`
	TotalTiles   int             `json:"total_tiles"`
	Revealed     []int           `json:"revealed"`
	Mines        []int           `json:"mines,omitempty"`
	SafeRevealed int             `json:"safe_revealed"`
	Multiplier   float64         `json:"multiplier"`
	LiveProfit   decimal.Decimal `json:"live_profit"`
}

// Snapshot is the uniform presentation view exposed by the coordinator.
type Snapshot struct {
	ActiveGame GameType        `json:"active_game,omitempty"`
	Phase      Phase           `json:"phase"`
	Balance    decimal.Decimal `json:"balance"`
	LiveProfit decimal.Decimal `json:"live_profit"`
	Crash      CrashState      `json:"crash"`
	Mines      MinesState      `json:"mines"`
	Stats      Statistics      `json:"stats"`
	Degraded   bool            `json:"degraded"`
}
