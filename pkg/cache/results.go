package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/aipgraph/pkg/observability"
	"github.com/matzehuels/aipgraph/pkg/result"
)

const keyTypeResult = "result"

// Results stores stage results in a Cache. Reads refresh the TTL of the
// entry they hit.
type Results struct {
	Cache  Cache
	Keyer  Keyer
	TTL    time.Duration
	Logger *log.Logger
}

// NewResults returns a result store over c with the default keyer.
func NewResults(c Cache, ttl time.Duration, logger *log.Logger) *Results {
	if logger == nil {
		logger = log.Default()
	}
	return &Results{Cache: c, Keyer: NewDefaultKeyer(), TTL: ttl, Logger: logger}
}

// Key returns the key for a resolved chain.
func (r *Results) Key(sources []string, orderBy string) string {
	return r.Keyer.ChainKey(sources, orderBy)
}

// Get returns the result stored under key. A corrupt entry is deleted and
// reported as a miss.
func (r *Results) Get(ctx context.Context, key string) (*result.Result, bool, error) {
	data, ok, err := r.Cache.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		observability.Cache().OnCacheMiss(ctx, keyTypeResult)
		return nil, false, nil
	}
	var res result.Result
	if err := json.Unmarshal(data, &res); err != nil {
		r.Logger.Warn("dropping corrupt cache entry", "key", key, "err", err)
		_ = r.Cache.Delete(ctx, key)
		observability.Cache().OnCacheMiss(ctx, keyTypeResult)
		return nil, false, nil
	}
	observability.Cache().OnCacheHit(ctx, keyTypeResult)
	if err := r.Touch(ctx, key); err != nil {
		r.Logger.Debug("cache touch failed", "key", key, "err", err)
	}
	res.Key = key
	return &res, true, nil
}

// Put stores res under key with the configured TTL.
func (r *Results) Put(ctx context.Context, key string, res *result.Result) error {
	stored := res.Clone()
	stored.Key = ""
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := r.Cache.Set(ctx, key, data, r.TTL); err != nil {
		return err
	}
	observability.Cache().OnCacheSet(ctx, keyTypeResult, len(data))
	return nil
}

// Touch refreshes the TTL of key.
func (r *Results) Touch(ctx context.Context, key string) error {
	return r.Cache.Touch(ctx, key, r.TTL)
}
