// Package ledger is the single source of truth for the player balance and
// the append-only round history.
//
// Balance and history live in memory and are authoritative there. Every
// mutation is persisted synchronously through a store.KV; failed writes are
// retried with exponential backoff and, if they still fail, the ledger
// enters degraded mode until a later write (or Flush) succeeds. Because the
// whole document is rewritten on each save, one successful write catches up
// everything that failed before it.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/store"
)

// Storage keys for the persisted documents.
const (
	HistoryKey = "casino_v6_history_v2" // {stats, records, topUps}
	BalanceKey = "casino_v6_balance"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidAmount is returned for negative credits and non-positive
	// debits or top-ups.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrPersistence is returned when a write still fails after retries.
	// The in-memory state has already been updated.
	ErrPersistence = errors.New("ledger: persistence failed")

	// ErrInconsistentStatistics is returned by Verify when the running
	// totals disagree with a replay of the history.
	ErrInconsistentStatistics = errors.New("ledger: statistics do not match history")
)

// Options configures a Ledger.
type Options struct {
	// StartingBalance is used when the session store holds no balance.
	StartingBalance decimal.Decimal

	// MaxTries bounds persistence attempts per write. Zero means 3.
	MaxTries uint

	// RetryInterval is the first backoff delay. Zero means 50ms.
	RetryInterval time.Duration

	// Now stamps top-ups. Nil means time.Now.
	Now func() time.Time
}

// Ledger owns the balance and history.
type Ledger struct {
	mu      sync.Mutex
	history store.KV
	session store.KV
	opts    Options
	balance decimal.Decimal
	doc     model.History
	dirty   map[string]bool // keys whose last write failed
}

// Open loads the balance from session and the history from history. The two
// stores may be the same; they are separate so balance can be scoped to a
// session while history outlives it.
func Open(ctx context.Context, history, session store.KV, opts Options) (*Ledger, error) {
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Ledger{
		history: history,
		session: session,
		opts:    opts,
		balance: opts.StartingBalance.Round(model.MoneyScale),
		dirty:   make(map[string]bool),
	}

	data, err := history.Get(ctx, HistoryKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load history: %w", err)
	default:
		if err := json.Unmarshal(data, &l.doc); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}

	data, err = session.Get(ctx, BalanceKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load balance: %w", err)
	default:
		b, err := decimal.NewFromString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode balance: %w", err)
		}
		if b.IsNegative() {
			return nil, fmt.Errorf("decode balance: negative balance %s", b)
		}
		l.balance = b
	}

	if err := l.verifyLocked(); err != nil {
		slog.Warn("loaded history fails consistency check", "err", err)
	}
	return l, nil
}

// Balance returns the current balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Degraded reports whether any document's last write failed.
func (l *Ledger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dirty) > 0
}

// Stats returns the running totals.
func (l *Ledger) Stats() model.Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.Stats
}

// Records returns up to limit of the most recent records, oldest first.
// A non-positive limit returns the full history. Truncation is for display
// only; statistics always cover every record.
func (l *Ledger) Records(limit int) []model.ResultRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.doc.Records
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return append([]model.ResultRecord{}, recs...)
}

// TopUps returns every recorded top-up.
func (l *Ledger) TopUps() []model.TopUp {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.TopUp{}, l.doc.TopUps...)
}

// Debit subtracts amount from the balance. It never lets the balance go
// negative: amount > balance fails with ErrInsufficientFunds and changes
// nothing. A balance write failure leaves the ledger degraded but does not
// undo the debit; the next Settle or Flush reports it.
func (l *Ledger) Debit(ctx context.Context, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(l.balance) {
		return ErrInsufficientFunds
	}
	l.balance = l.balance.Sub(amount)
	_ = l.persistBalanceLocked(ctx)
	return nil
}

// Credit adds amount to the balance. Zero is allowed.
func (l *Ledger) Credit(ctx context.Context, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.balance = l.balance.Add(amount)
	_ = l.persistBalanceLocked(ctx)
	return nil
}

// RecordResult appends rec to the history, updates statistics and persists
// both documents before returning. On ErrPersistence the record is still part
// of the in-memory history.
func (l *Ledger) RecordResult(ctx context.Context, rec model.ResultRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(ctx, rec)
}

// Settle credits rec.Payout and records rec as one step. It is how engines
// resolve a round: losses carry a zero payout. The error covers both the
// history and the balance write.
func (l *Ledger) Settle(ctx context.Context, rec model.ResultRecord) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Payout.IsNegative() {
		return l.balance, ErrInvalidAmount
	}
	l.balance = l.balance.Add(rec.Payout)
	err := l.recordLocked(ctx, rec)
	return l.balance, err
}

func (l *Ledger) recordLocked(ctx context.Context, rec model.ResultRecord) error {
	l.appendLocked(rec)
	return l.persistLocked(ctx)
}

// TopUp credits amount and counts it in totalToppedUp.
func (l *Ledger) TopUp(ctx context.Context, amount decimal.Decimal) (model.TopUp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !amount.IsPositive() {
		return model.TopUp{}, ErrInvalidAmount
	}
	t := model.TopUp{
		Amount:    amount,
		Timestamp: l.opts.Now().UTC(),
	}
	l.balance = l.balance.Add(amount)
	l.doc.TopUps = append(l.doc.TopUps, t)
	l.doc.Stats = l.doc.Stats.ApplyTopUp(t)

	return t, l.persistLocked(ctx)
}

// Flush rewrites both documents. It clears degraded mode on success.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistLocked(ctx)
}

// Verify replays the history and compares the result with the running
// totals.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verifyLocked()
}

// Replay recomputes statistics from records and top-ups alone.
func Replay(records []model.ResultRecord, topUps []model.TopUp) model.Statistics {
	var s model.Statistics
	for _, r := range records {
		s = s.ApplyResult(r)
	}
	for _, t := range topUps {
		s = s.ApplyTopUp(t)
	}
	return s
}

func (l *Ledger) verifyLocked() error {
	replayed := Replay(l.doc.Records, l.doc.TopUps)
	if !replayed.Equal(l.doc.Stats) {
		return fmt.Errorf("%w: running %+v, replayed %+v", ErrInconsistentStatistics, l.doc.Stats, replayed)
	}
	return nil
}

func (l *Ledger) appendLocked(rec model.ResultRecord) {
	l.doc.Records = append(l.doc.Records, rec)
	l.doc.Stats = l.doc.Stats.ApplyResult(rec)
}

// --- Persistence ---

// persistLocked writes history and balance. Both writes are attempted; a
// failure of either is reported as ErrPersistence.
func (l *Ledger) persistLocked(ctx context.Context) error {
	histErr := l.persistHistoryLocked(ctx)
	balErr := l.persistBalanceLocked(ctx)
	return errors.Join(histErr, balErr)
}

func (l *Ledger) persistHistoryLocked(ctx context.Context) error {
	data, err := json.Marshal(l.doc)
	if err != nil {
		return fmt.Errorf("%w: encode history: %v", ErrPersistence, err)
	}
	if err := l.write(ctx, l.history, HistoryKey, data); err != nil {
		return fmt.Errorf("%w: history: %v", ErrPersistence, err)
	}
	return nil
}

func (l *Ledger) persistBalanceLocked(ctx context.Context) error {
	data := []byte(l.balance.StringFixed(model.MoneyScale))
	if err := l.write(ctx, l.session, BalanceKey, data); err != nil {
		return fmt.Errorf("%w: balance: %v", ErrPersistence, err)
	}
	return nil
}

// write retries kv.Set with exponential backoff and tracks which keys are
// behind.
func (l *Ledger) write(ctx context.Context, kv store.KV, key string, data []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.RetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, kv.Set(ctx, key, data)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(l.opts.MaxTries))
	if err != nil {
		l.dirty[key] = true
		metrics.PersistenceFailures.Inc()
		slog.Warn("ledger write failed, running degraded", "key", key, "err", err)
		return err
	}
	delete(l.dirty, key)
	return nil
}
