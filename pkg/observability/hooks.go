// Package observability provides hooks for metrics and tracing.
//
// Libraries emit events through small hook interfaces; the binary decides
// what receives them. Every hook defaults to a no-op, so packages can be used
// and tested without any observability backend. The prom subpackage provides
// a Prometheus implementation.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    h := prom.New(prometheus.DefaultRegisterer)
//	    observability.SetQueryHooks(h)
//	    observability.SetCacheHooks(h)
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Query().OnStageStart(ctx, rank, "onehop")
//	// ... run the stage ...
//	observability.Query().OnStageComplete(ctx, rank, "onehop", "search", ids, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Query Hooks
// =============================================================================

// QueryHooks receives events from the query executor.
type QueryHooks interface {
	// OnStageStart records the start of stage rank (0-based) of kind.
	OnStageStart(ctx context.Context, rank int, kind string)

	// OnStageComplete records a finished stage. backend is "graph",
	// "search", "cache" or "simulate"; ids is the size of the stage result.
	OnStageComplete(ctx context.Context, rank int, kind, backend string, ids int, duration time.Duration, err error)

	// OnFallback records a one-hop stage that fell back from the search
	// index to the graph join.
	OnFallback(ctx context.Context, rank int, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// Ingest Hooks
// =============================================================================

// IngestHooks receives events from graph writes and search indexing.
type IngestHooks interface {
	// OnNodeMerged records a node write; created is false for re-submissions.
	OnNodeMerged(ctx context.Context, kind string, created bool)

	// OnBulkIndex records a completed bulk index submission.
	OnBulkIndex(ctx context.Context, docs int, duration time.Duration, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopQueryHooks is a no-op implementation of QueryHooks.
type NoopQueryHooks struct{}

func (NoopQueryHooks) OnStageStart(context.Context, int, string) {}
func (NoopQueryHooks) OnStageComplete(context.Context, int, string, string, int, time.Duration, error) {
}
func (NoopQueryHooks) OnFallback(context.Context, int, error) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopIngestHooks is a no-op implementation of IngestHooks.
type NoopIngestHooks struct{}

func (NoopIngestHooks) OnNodeMerged(context.Context, string, bool)             {}
func (NoopIngestHooks) OnBulkIndex(context.Context, int, time.Duration, error) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	queryHooks  QueryHooks  = NoopQueryHooks{}
	cacheHooks  CacheHooks  = NoopCacheHooks{}
	ingestHooks IngestHooks = NoopIngestHooks{}
	hooksMu     sync.RWMutex
)

// SetQueryHooks registers custom query hooks.
// This should be called once at application startup before any query runs.
func SetQueryHooks(h QueryHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		queryHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetIngestHooks registers custom ingest hooks.
func SetIngestHooks(h IngestHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		ingestHooks = h
	}
}

// Query returns the registered query hooks.
func Query() QueryHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return queryHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Ingest returns the registered ingest hooks.
func Ingest() IngestHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return ingestHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	queryHooks = NoopQueryHooks{}
	cacheHooks = NoopCacheHooks{}
	ingestHooks = NoopIngestHooks{}
}
