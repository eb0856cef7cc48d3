package round

import (
	"sync"

	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
)

// Lock is the process-wide round lock. At most one game holds it at a time.
type Lock struct {
	mu     sync.Mutex
	holder model.GameType
}

// NewLock returns an unheld lock.
func NewLock() *Lock {
	return &Lock{}
}

// TryAcquire takes the lock for game. It returns false if any game,
// including game itself, already holds it.
func (l *Lock) TryAcquire(game model.GameType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder != "" {
		return false
	}
	l.holder = game
	metrics.ActiveRound.WithLabelValues(string(game)).Set(1)
	return true
}

// Release frees the lock if game holds it and reports whether it did.
func (l *Lock) Release(game model.GameType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder != game {
		return false
	}
	l.holder = ""
	metrics.ActiveRound.WithLabelValues(string(game)).Set(0)
	return true
}

// Holder returns the game holding the lock, if any.
func (l *Lock) Holder() (model.GameType, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.holder != ""
}
