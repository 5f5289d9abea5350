package docgate

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoConfig sizes a RistrettoCache.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	// TTL bounds how long ristretto keeps an entry. Validity is still
	// decided by the gateway.
	TTL time.Duration
}

func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{NumCounters: 100_000, MaxCost: 10_000, BufferItems: 64, TTL: DefaultCacheTTL}
}

// RistrettoCache stores entries in a ristretto cache, each with cost 1, so
// MaxCost is the entry capacity.
type RistrettoCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
	index *collectionIndex
}

func NewRistrettoCache(cfg RistrettoConfig) (*RistrettoCache, error) {
	def := DefaultRistrettoConfig()
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = def.NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = def.MaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = def.BufferItems
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &RistrettoCache{cache: c, ttl: cfg.TTL, index: newCollectionIndex()}, nil
}

func (c *RistrettoCache) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	e, ok := v.(*CacheEntry)
	return e, ok, nil
}

func (c *RistrettoCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	c.cache.SetWithTTL(key, entry, 1, c.ttl)
	// make the write visible to the next Get
	c.cache.Wait()
	if entry.Query {
		c.index.add(entry.Collection, key)
	}
	return nil
}

func (c *RistrettoCache) Delete(ctx context.Context, key string) error {
	c.cache.Del(key)
	c.index.remove(key)
	return nil
}

func (c *RistrettoCache) InvalidateQueries(ctx context.Context, collection string) error {
	for _, k := range c.index.take(collection) {
		c.cache.Del(k)
	}
	return nil
}

func (c *RistrettoCache) Clear(ctx context.Context) error {
	c.cache.Clear()
	c.index.reset()
	return nil
}

// Close releases the ristretto goroutines.
func (c *RistrettoCache) Close() {
	c.cache.Close()
}
