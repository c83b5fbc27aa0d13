package cache

import (
	"context"
	"time"

	"github.com/HelyeFab/moshimoshi-sub008/internal/logging"
)

// NoopBackend is the cache-disabled backend: every read misses and every
// write succeeds without storing anything. Deployments without Redis get
// correct (if slower) behavior because callers treat misses as a fall
// through to the source of truth.
type NoopBackend struct {
	logger *logging.Logger
}

// NewNoopBackend creates a NoopBackend.
func NewNoopBackend(logger *logging.Logger) *NoopBackend {
	if logger == nil {
		logger = logging.Get()
	}
	logger.Warn("Cache backend disabled; all reads will miss", nil)
	return &NoopBackend{logger: logger}
}

func (n *NoopBackend) Get(ctx context.Context, key string) (string, error) { return "", ErrMiss }

func (n *NoopBackend) Set(ctx context.Context, key, value string) error { return nil }

func (n *NoopBackend) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}

func (n *NoopBackend) Del(ctx context.Context, keys ...string) error { return nil }

func (n *NoopBackend) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (n *NoopBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	return -2 * time.Second, nil
}

func (n *NoopBackend) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }

func (n *NoopBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	return nil
}

func (n *NoopBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (n *NoopBackend) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return 0, nil
}

func (n *NoopBackend) ZAdd(ctx context.Context, key string, members ...ZMember) error { return nil }

func (n *NoopBackend) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, nil
}

func (n *NoopBackend) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return nil, nil
}

func (n *NoopBackend) ZRem(ctx context.Context, key string, members ...string) error { return nil }

func (n *NoopBackend) ZCard(ctx context.Context, key string) (int64, error) { return 0, nil }

func (n *NoopBackend) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	return 0, nil
}

func (n *NoopBackend) SAdd(ctx context.Context, key string, members ...string) error { return nil }

func (n *NoopBackend) SMembers(ctx context.Context, key string) ([]string, error) { return nil, nil }

func (n *NoopBackend) Pipelined(ctx context.Context, fn func(p Writer) error) error {
	return fn(n)
}
