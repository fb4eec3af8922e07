package boundary

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// GeometryCache stores unioned layer boundaries keyed by layer URL.
// Implementations must be safe for concurrent use.
type GeometryCache interface {
	Get(ctx context.Context, key string) (orb.MultiPolygon, bool, error)
	Put(ctx context.Context, key string, g orb.MultiPolygon) error
	Close() error
}

// encodeGeometry serializes a boundary as WKB.
func encodeGeometry(g orb.MultiPolygon) ([]byte, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding geometry: %w", err)
	}
	return data, nil
}

// decodeGeometry parses WKB back into a boundary.
func decodeGeometry(data []byte) (orb.MultiPolygon, error) {
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decoding geometry: %w", err)
	}
	return polygonal(g), nil
}

// MemoryCache is a process-wide in-memory cache. Stored values are cloned on
// the way in and out so callers never share a geometry.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]orb.MultiPolygon
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]orb.MultiPolygon)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (orb.MultiPolygon, bool, error) {
	c.mu.RLock()
	g, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return g.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, g orb.MultiPolygon) error {
	c.mu.Lock()
	c.items[key] = g.Clone()
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error { return nil }

// Len returns the number of cached boundaries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// tieredCache fronts a persistent backend with a memory cache so repeated
// lookups within a run stay local.
type tieredCache struct {
	front   *MemoryCache
	backend GeometryCache
}

func newTieredCache(backend GeometryCache) *tieredCache {
	return &tieredCache{front: NewMemoryCache(), backend: backend}
}

func (t *tieredCache) Get(ctx context.Context, key string) (orb.MultiPolygon, bool, error) {
	if g, ok, _ := t.front.Get(ctx, key); ok {
		return g, true, nil
	}
	g, ok, err := t.backend.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.front.Put(ctx, key, g)
	return g, true, nil
}

func (t *tieredCache) Put(ctx context.Context, key string, g orb.MultiPolygon) error {
	_ = t.front.Put(ctx, key, g)
	return t.backend.Put(ctx, key, g)
}

func (t *tieredCache) Close() error {
	return t.backend.Close()
}

// OpenCache builds the cache selected by cfg.
func OpenCache(ctx context.Context, cfg CacheConfig) (GeometryCache, error) {
	switch cfg.Backend {
	case "", CacheMemory:
		return NewMemoryCache(), nil
	case CacheSQLite:
		backend, err := OpenSQLiteCache(ctx, cfg.SQLitePath, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return newTieredCache(backend), nil
	case CacheRedis:
		backend, err := NewRedisCache(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
		if err != nil {
			return nil, err
		}
		return newTieredCache(backend), nil
	}
	return nil, fmt.Errorf("%w: unknown cache backend %q", ErrConfig, cfg.Backend)
}
