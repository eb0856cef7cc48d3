// Package store defines the durable key-value contract the ledger persists
// through. Implementations include PostgreSQL and SQLite (durable history),
// Redis (session-scoped values and a read-through cache) and in-memory (for
// testing and single-process use).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key has never been set.
var ErrNotFound = errors.New("store: key not found")

// KV is the persistence interface: opaque bytes under string keys.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value. It must not
	// return until the write is durable for the backend's lifetime.
	Set(ctx context.Context, key string, value []byte) error
}
