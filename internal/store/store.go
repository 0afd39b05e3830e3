// Package store defines the key-value persistence used by the chain runtime.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing). Contracts never see these directly;
// they write through a Branch that is committed atomically per transaction.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when a key has no value.
	ErrNotFound = errors.New("store: not found")

	// ErrUnavailable wraps failures of the backing database.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Order selects range iteration direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Pair is a single key/value entry returned by a range scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// Write is one mutation in an atomic batch. A nil Value with Delete set
// removes the key.
type Write struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// KV is the backing store. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type KV interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Scan returns entries with start <= key < end in the given order.
	// A nil end means no upper bound.
	Scan(ctx context.Context, start, end []byte, order Order) ([]Pair, error)

	// Apply commits a batch of writes atomically.
	Apply(ctx context.Context, writes []Write) error
}

// Storage is the read/write view handed to a contract invocation.
type Storage interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Range(ctx context.Context, start, end []byte, order Order) ([]Pair, error)
}
