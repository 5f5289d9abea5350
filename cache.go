package docgate

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached read stays valid.
const DefaultCacheTTL = 5 * time.Minute

// CacheEntry is a cached point read (Doc) or query result (Docs).
type CacheEntry struct {
	Collection string     `json:"collection"`
	Query      bool       `json:"query,omitempty"`
	Doc        Document   `json:"doc,omitempty"`
	Docs       []Document `json:"docs,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Valid reports whether the entry is younger than ttl at now.
func (e *CacheEntry) Valid(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.Timestamp) < ttl
}

// Cache stores gateway read results. Query entries are indexed by
// collection so a write can drop every query of that collection without
// scanning the whole cache.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	InvalidateQueries(ctx context.Context, collection string) error
	Clear(ctx context.Context) error
}

// collectionIndex tracks which query keys belong to which collection.
type collectionIndex struct {
	mu    sync.Mutex
	keys  map[string]map[string]struct{}
	owner map[string]string
}

func newCollectionIndex() *collectionIndex {
	return &collectionIndex{keys: make(map[string]map[string]struct{}), owner: make(map[string]string)}
}

func (ix *collectionIndex) add(collection, key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set, ok := ix.keys[collection]
	if !ok {
		set = make(map[string]struct{})
		ix.keys[collection] = set
	}
	set[key] = struct{}{}
	ix.owner[key] = collection
}

func (ix *collectionIndex) remove(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	c, ok := ix.owner[key]
	if !ok {
		return
	}
	delete(ix.owner, key)
	delete(ix.keys[c], key)
	if len(ix.keys[c]) == 0 {
		delete(ix.keys, c)
	}
}

// take removes and returns every key indexed under collection.
func (ix *collectionIndex) take(collection string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set := ix.keys[collection]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
		delete(ix.owner, k)
	}
	delete(ix.keys, collection)
	return out
}

func (ix *collectionIndex) reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.keys = make(map[string]map[string]struct{})
	ix.owner = make(map[string]string)
}

// MemoryCache is a map-backed Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	index   *collectionIndex
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CacheEntry), index: newCollectionIndex()}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	if entry.Query {
		c.index.add(entry.Collection, key)
	}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.index.remove(key)
	return nil
}

func (c *MemoryCache) InvalidateQueries(ctx context.Context, collection string) error {
	keys := c.index.take(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mu.Unlock()
	c.index.reset()
	return nil
}

// Len returns the number of stored entries, valid or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
