package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"data-gateway/middleware/gateway/domain"

	"github.com/redis/go-redis/v9"
)

var _ domain.Cache = (*RedisCache)(nil)

// RedisCache guarda cada valor num envelope JSON com o instante de gravação e o TTL.
//
// A expiração no Redis é ttl+staleFor, então a leitura stale sobrevive ao TTL;
// a frescura é calculada aqui a partir de stored_at.
type RedisCache struct {
	rdb redis.Cmdable

	prefix   string
	staleFor time.Duration
	now      func() time.Time
}

type redisEnvelope struct {
	Value    json.RawMessage `json:"v,omitempty"`
	Raw      []byte          `json:"raw,omitempty"`
	StoredAt int64           `json:"stored_at"`
	TTLMs    int64           `json:"ttl_ms"`
}

type RedisCacheOption func(*RedisCache)

func WithCachePrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		c.prefix = strings.Trim(prefix, ":")
	}
}

func WithRedisStaleFor(d time.Duration) RedisCacheOption {
	return func(c *RedisCache) { c.staleFor = d }
}

func WithRedisClock(now func() time.Time) RedisCacheOption {
	return func(c *RedisCache) { c.now = now }
}

func NewRedisCache(rdb redis.Cmdable, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		rdb:      rdb,
		prefix:   "gateway:cache",
		staleFor: 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	freshUntil := time.UnixMilli(env.StoredAt).Add(time.Duration(env.TTLMs) * time.Millisecond)
	if !c.now().Before(freshUntil) {
		return nil, false, nil
	}
	return env.payload(), true, nil
}

func (c *RedisCache) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return env.payload(), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := redisEnvelope{
		StoredAt: c.now().UnixMilli(),
		TTLMs:    ttl.Milliseconds(),
	}
	// JSON válido fica legível no redis-cli; o resto vai em base64
	if json.Valid(value) {
		env.Value = value
	} else {
		env.Raw = value
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry for key %v: %w", key, err)
	}
	if err := c.rdb.Set(ctx, c.redisKey(key), data, ttl+c.staleFor).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %v: %w", key, err)
	}
	return nil
}

func (c *RedisCache) load(ctx context.Context, key string) (redisEnvelope, bool, error) {
	data, err := c.rdb.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisEnvelope{}, false, nil
	}
	if err != nil {
		return redisEnvelope{}, false, fmt.Errorf("failed to get cache key %v: %w", key, err)
	}

	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return redisEnvelope{}, false, fmt.Errorf("failed to decode cache entry for key %v: %w", key, err)
	}
	return env, true, nil
}

func (c *RedisCache) redisKey(key string) string {
	return c.prefix + ":" + key
}

func (e redisEnvelope) payload() []byte {
	if e.Value != nil {
		return []byte(e.Value)
	}
	return e.Raw
}
