package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"payment-orchestration/pkg/redis"
)

// TokenCache keeps short-lived provider credentials (OAuth bearer tokens,
// session tokens) so that concurrent attempts share one login.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type RedisTokenCache struct {
	redis  *redis.Client
	prefix string
}

func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{redis: client, prefix: "gateway-token:"}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, c.prefix+key)
	if errors.Is(err, redis.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	return c.redis.Set(ctx, c.prefix+key, token, ttl)
}

func (c *RedisTokenCache) Delete(ctx context.Context, key string) error {
	return c.redis.Delete(ctx, c.prefix+key)
}

// MemoryTokenCache is the single-process fallback when Redis is not configured.
type MemoryTokenCache struct {
	mu   sync.RWMutex
	data map[string]tokenEntry
	now  func() time.Time
}

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{data: make(map[string]tokenEntry), now: time.Now}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false, nil
	}
	return entry.token, true, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = tokenEntry{token: token, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryTokenCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}
