package infra

import (
	"context"
	"sync"
	"time"

	"data-gateway/middleware/gateway/domain"
)

var _ domain.Cache = (*MemoryCache)(nil)

// MemoryCache é um cache TTL em memória com leitura stale.
//
// Uma entrada é fresca enquanto now < storedAt+ttl e continua legível via
// GetStale até storedAt+ttl+staleFor; depois disso a limpeza a remove.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry

	now          func() time.Time
	staleFor     time.Duration
	maxEntries   int
	cleanupEvery time.Duration
}

type cacheEntry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e *cacheEntry) freshUntil() time.Time { return e.storedAt.Add(e.ttl) }

type MemoryCacheOption func(*MemoryCache)

// WithStaleFor define o horizonte de retenção após o TTL.
func WithStaleFor(d time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) { c.staleFor = d }
}

// WithMaxEntries limita o tamanho; ao exceder, descarta a entrada mais antiga.
func WithMaxEntries(n int) MemoryCacheOption {
	return func(c *MemoryCache) { c.maxEntries = n }
}

func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) { c.now = now }
}

func WithCacheCleanupEvery(d time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) { c.cleanupEvery = d }
}

func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		entries:      make(map[string]*cacheEntry),
		now:          time.Now,
		staleFor:     24 * time.Hour,
		cleanupEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.entries[key]
	if !ok || !c.now().Before(ent.freshUntil()) {
		return nil, false, nil
	}
	return ent.value, true, nil
}

func (c *MemoryCache) GetStale(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.entries[key]
	if !ok || !c.now().Before(ent.freshUntil().Add(c.staleFor)) {
		return nil, false, nil
	}
	return ent.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	// copia para o chamador poder reutilizar o buffer
	v := append([]byte(nil), value...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{value: v, storedAt: c.now(), ttl: ttl}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Cleanup remove entradas além do horizonte de retenção.
func (c *MemoryCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, ent := range c.entries {
		if !now.Before(ent.freshUntil().Add(c.staleFor)) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) StartJanitor(ctx context.Context) (stop func()) {
	return startJanitor(ctx, c.cleanupEvery, func() { c.Cleanup() })
}

func (c *MemoryCache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, ent := range c.entries {
		if oldestKey == "" || ent.storedAt.Before(oldest) {
			oldestKey, oldest = k, ent.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
