package round

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atmx/wager-engine/internal/model"
)

// Ticker is anything that advances a Crash round.
type Ticker interface {
	Tick(ctx context.Context, dt time.Duration) (*model.Resolution, error)
}

// Driver is the periodic source that calls Tick with the elapsed time between
// ticks. Ticks with no round playing are no-ops, so the driver runs
// unconditionally.
type Driver struct {
	target   Ticker
	interval time.Duration
	clock    Clock
}

// NewDriver creates a driver ticking target every interval. A nil clock
// uses the wall clock.
func NewDriver(target Ticker, interval time.Duration, clock Clock) *Driver {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Driver{target: target, interval: interval, clock: clock}
}

// Run ticks until ctx is cancelled. It always returns nil on cancellation.
func (d *Driver) Run(ctx context.Context) error {
	t := time.NewTicker(d.interval)
	defer t.Stop()

	last := d.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			now := d.clock.Now()
			d.step(ctx, now.Sub(last))
			last = now
		}
	}
}

func (d *Driver) step(ctx context.Context, dt time.Duration) {
	res, err := d.target.Tick(ctx, dt)
	if err != nil && !errors.Is(err, ErrPersistenceFailure) {
		slog.Error("crash tick failed", "err", err)
		return
	}
	if res != nil {
		slog.Info("crash round ended by tick",
			"round_id", res.Record.ID,
			"phase", res.Phase,
			"persisted", res.Persisted,
		)
	}
}
