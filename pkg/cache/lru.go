package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultCapacity bounds an LRUCache at 256 MiB of entry bytes.
const DefaultCapacity = 256 << 20

// LRUCache is a bounded in-process cache. Entries cost their length in
// bytes and are evicted once capacity is exceeded.
//
// Writes are applied asynchronously by ristretto; LRUCache waits for them
// so that a Get following a Set observes the entry.
type LRUCache struct {
	c      *ristretto.Cache[string, []byte]
	closed atomic.Bool
}

// NewLRUCache creates a cache holding up to capacity bytes. A capacity <= 0
// uses DefaultCapacity.
func NewLRUCache(capacity int64) (*LRUCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// ristretto recommends ~10 counters per expected entry; results
		// average well above 1 KiB.
		NumCounters: max(capacity/100, 1000),
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache{c: c}, nil
}

func (l *LRUCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if l.closed.Load() {
		return nil, false, ErrClosed
	}
	v, ok := l.c.Get(key)
	return v, ok, nil
}

// Set stores data. An entry larger than the whole capacity is dropped
// silently, as with any eviction.
func (l *LRUCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.c.SetWithTTL(key, data, int64(len(data)), max(ttl, 0))
	l.c.Wait()
	return nil
}

func (l *LRUCache) Touch(ctx context.Context, key string, ttl time.Duration) error {
	data, ok, err := l.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	return l.Set(ctx, key, data, ttl)
}

func (l *LRUCache) Delete(_ context.Context, key string) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.c.Del(key)
	return nil
}

// Clear drops every entry.
func (l *LRUCache) Clear() {
	l.c.Clear()
}

func (l *LRUCache) Close() error {
	if l.closed.CompareAndSwap(false, true) {
		l.c.Close()
	}
	return nil
}

var _ Cache = (*LRUCache)(nil)
