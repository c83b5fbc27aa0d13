// Package cache provides the Redis-backed server cache layer for review
// queues and user statistics. Every backend failure is treated as a cache
// miss: callers fall through to their source of truth and a broken cache
// never breaks a request.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key does not exist. Backend implementations
// map their own not-found sentinel (redis.Nil) to this.
var ErrMiss = errors.New("cache: miss")

// ZMember is one sorted-set member with its score.
type ZMember struct {
	Score  float64
	Member string
}

// Writer holds the mutation operations shared by Backend and Pipe.
type Writer interface {
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HSet(ctx context.Context, key string, fields map[string]string) error
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZRem(ctx context.Context, key string, members ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
}

// Backend is the cache store abstraction. Production uses the Redis
// implementation; tests and cache-disabled deployments use miniredis or
// the no-op backend. Implementations must be safe for concurrent use.
type Backend interface {
	Writer

	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	HGetAll(ctx context.Context, key string) (map[string]string, error)

	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZCount(ctx context.Context, key string, min, max float64) (int64, error)

	SMembers(ctx context.Context, key string) ([]string, error)

	// Pipelined batches the writes issued inside fn into one round trip.
	// Results of individual commands are not observable; it is for bulk
	// rebuilds where only the overall error matters.
	Pipelined(ctx context.Context, fn func(p Writer) error) error
}

// IsMiss reports whether err means the key was absent.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}
