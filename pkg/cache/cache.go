// Package cache stores previously computed query stage results.
//
// A [Cache] is a byte store with per-entry TTLs. Four backends are provided:
//   - [LRUCache]: bounded in-process cache (ristretto)
//   - [RedisCache]: external K/V store, SET EX and EXPIRE
//   - [MongoCache]: document collection with a TTL index
//   - [FileCache]: one file per entry, for CLI runs without servers
//
// [NullCache] disables caching. [Results] layers result encoding, TTL
// refresh on read and cache hooks over any backend, and a [Keyer] derives
// deterministic keys from resolved stage chains.
package cache

import (
	"context"
	"time"
)

// Cache is a byte store with expiring entries. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get returns the entry for key. A missing or expired entry is a miss,
	// not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Touch resets the expiry of key to ttl from now. Touching a missing key
	// is a no-op.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}
