// Package store provides the durable key-value state layer shared by the
// engine cycles. All cross-cycle coordination (cooldowns, reentry locks,
// snapshots, the journal) lives here as JSON records; there are no
// transactions, only idempotent upserts keyed per pair.
package store

import (
	"context"
	"time"
)

// Store is the key-value interface the engine persists through.
type Store interface {
	// GetJSON reads the value at key into dest. The boolean reports
	// whether the key existed.
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)

	// SetJSON writes value at key. A zero ttl means no expiry.
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListPush prepends a JSON-encoded value to the list at key.
	ListPush(ctx context.Context, key string, value interface{}) error

	// ListRange returns raw JSON elements from start to stop inclusive
	// (newest first, matching ListPush order).
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ListTrim keeps only elements from start to stop inclusive.
	ListTrim(ctx context.Context, key string, start, stop int64) error

	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Incr atomically increments the integer at key, setting the ttl on
	// first increment. Used for the per-day calendar call counter.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
