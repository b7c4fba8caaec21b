package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries in Redis with SET EX. Touch maps to EXPIRE
// (PERSIST for ttl <= 0).
type RedisCache struct {
	rdb *redis.Client
}

// RedisOptions configures NewRedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and pings it.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Retryable(err)
	}
	return data, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return Retryable(r.rdb.Set(ctx, key, data, max(ttl, 0)).Err())
}

func (r *RedisCache) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return Retryable(r.rdb.Persist(ctx, key).Err())
	}
	return Retryable(r.rdb.Expire(ctx, key, ttl).Err())
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return Retryable(r.rdb.Del(ctx, key).Err())
}

// Clear deletes every key starting with prefix and returns the count.
func (r *RedisCache) Clear(ctx context.Context, prefix string) (int, error) {
	n := 0
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, iter.Err()
}

func (r *RedisCache) Close() error {
	return r.rdb.Close()
}

var _ Cache = (*RedisCache)(nil)
