package source

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmerrifield20/canapi/pkg/apispec"
	"go.uber.org/zap"
)

// Cache stores encoded documents by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Invalidate(ctx context.Context, key string) error
}

// Cached wraps a Source with a document cache. Cache failures are logged
// and fall through to the wrapped source.
type Cached struct {
	src    Source
	cache  Cache
	logger *zap.Logger
}

// NewCached wraps src with cache.
func NewCached(src Source, cache Cache, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{src: src, cache: cache, logger: logger}
}

// Lookup implements Source.
func (c *Cached) Lookup(ctx context.Context, name, version string) (*apispec.Document, error) {
	key := Key(name, version)

	data, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("document cache read failed", zap.String("key", key), zap.Error(err))
	case ok:
		doc, derr := apispec.Decode(data, apispec.FormatJSON)
		if derr == nil {
			c.logger.Debug("document cache hit", zap.String("key", key))
			return doc, nil
		}
		c.logger.Warn("dropping undecodable cached document", zap.String("key", key), zap.Error(derr))
		_ = c.cache.Invalidate(ctx, key)
	}

	doc, err := c.src.Lookup(ctx, name, version)
	if err != nil {
		return nil, err
	}

	if encoded, merr := json.Marshal(doc); merr == nil {
		if serr := c.cache.Set(ctx, key, encoded); serr != nil {
			c.logger.Warn("document cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return doc, nil
}

// Invalidate drops a cached document.
func (c *Cached) Invalidate(ctx context.Context, name, version string) error {
	return c.cache.Invalidate(ctx, Key(name, version))
}

// ── Memory cache ──────────────────────────────────────────────────────────

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e *cacheEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// MemoryCache is a thread-safe in-memory Cache whose entries expire after a
// fixed TTL.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl defaults to five
// minutes.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired() {
		return nil, false, nil
	}
	return e.data, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{data: data, expiresAt: time.Now().Add(c.ttl)}
	return nil
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Evict removes all expired entries and returns how many were dropped.
func (c *MemoryCache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired() {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var (
	_ Cache  = (*MemoryCache)(nil)
	_ Source = (*Cached)(nil)
)
