package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on a go-redis client.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// RedisConfig holds connection settings for the cache backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DefaultRedisConfig returns the local-development connection settings.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{Addr: "localhost:6379"}
}

// NewRedisBackendFromConfig dials Redis and verifies the connection.
func NewRedisBackendFromConfig(ctx context.Context, config *RedisConfig) (*RedisBackend, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

// Close releases the underlying connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func mapNil(err error) error {
	if err == redis.Nil {
		return ErrMiss
	}
	return err
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.client.Get(ctx, key).Result()
	return val, mapNil(err)
}

func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *RedisBackend) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Del(ctx context.Context, keys ...string) error {
	return b.client.Del(ctx, keys...).Err()
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	return b.client.TTL(ctx, key).Result()
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

func (b *RedisBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return b.client.HSet(ctx, key, args...).Err()
}

func (b *RedisBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return b.client.HGetAll(ctx, key).Result()
}

func (b *RedisBackend) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return b.client.HIncrBy(ctx, key, field, delta).Result()
}

func (b *RedisBackend) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return b.client.ZAdd(ctx, key, zs...).Err()
}

func (b *RedisBackend) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return b.client.ZRange(ctx, key, start, stop).Result()
}

func (b *RedisBackend) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return b.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
}

func (b *RedisBackend) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.client.ZRem(ctx, key, args...).Err()
}

func (b *RedisBackend) ZCard(ctx context.Context, key string) (int64, error) {
	return b.client.ZCard(ctx, key).Result()
}

func (b *RedisBackend) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	return b.client.ZCount(ctx, key, formatScore(min), formatScore(max)).Result()
}

func (b *RedisBackend) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.client.SAdd(ctx, key, args...).Err()
}

func (b *RedisBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	return b.client.SMembers(ctx, key).Result()
}

func (b *RedisBackend) Pipelined(ctx context.Context, fn func(p Writer) error) error {
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		return fn(&redisPipe{pipe: pipe})
	})
	return err
}

// redisPipe adapts a go-redis pipeline to the Writer interface. Commands
// are queued, not executed, so result-returning ops report zero values.
type redisPipe struct {
	pipe redis.Pipeliner
}

func (p *redisPipe) Set(ctx context.Context, key, value string) error {
	p.pipe.Set(ctx, key, value, 0)
	return nil
}

func (p *redisPipe) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	p.pipe.Set(ctx, key, value, ttl)
	return nil
}

func (p *redisPipe) Del(ctx context.Context, keys ...string) error {
	p.pipe.Del(ctx, keys...)
	return nil
}

func (p *redisPipe) Expire(ctx context.Context, key string, ttl time.Duration) error {
	p.pipe.Expire(ctx, key, ttl)
	return nil
}

func (p *redisPipe) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	p.pipe.HSet(ctx, key, args...)
	return nil
}

func (p *redisPipe) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	p.pipe.HIncrBy(ctx, key, field, delta)
	return 0, nil
}

func (p *redisPipe) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	p.pipe.ZAdd(ctx, key, zs...)
	return nil
}

func (p *redisPipe) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.ZRem(ctx, key, args...)
	return nil
}

func (p *redisPipe) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SAdd(ctx, key, args...)
	return nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
