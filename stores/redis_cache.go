package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/docgate"
)

// RedisCache shares the gateway read cache between processes. Entries are
// stored as JSON, so numbers come back as float64 and times as strings.
//
// Keys:
//
//	{prefix}:cache:entry:{key}       entry JSON with a TTL
//	{prefix}:cache:queries:{coll}    set of query keys of a collection
//	{prefix}:cache:keys              set of every entry key
//	{prefix}:cache:collections       set of indexed collections
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ docgate.Cache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "docgate"
	}
	if ttl <= 0 {
		ttl = docgate.DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) entryKey(key string) string {
	return fmt.Sprintf("%s:cache:entry:%s", c.prefix, key)
}

func (c *RedisCache) queriesKey(collection string) string {
	return fmt.Sprintf("%s:cache:queries:%s", c.prefix, collection)
}

func (c *RedisCache) keysKey() string { return c.prefix + ":cache:keys" }

func (c *RedisCache) collectionsKey() string { return c.prefix + ":cache:collections" }

func (c *RedisCache) Get(ctx context.Context, key string) (*docgate.CacheEntry, bool, error) {
	b, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e docgate.CacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry *docgate.CacheEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.entryKey(key), b, c.ttl)
		p.SAdd(ctx, c.keysKey(), key)
		if entry.Query {
			p.SAdd(ctx, c.queriesKey(entry.Collection), key)
			p.SAdd(ctx, c.collectionsKey(), entry.Collection)
		}
		return nil
	})
	return err
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.entryKey(key))
		p.SRem(ctx, c.keysKey(), key)
		return nil
	})
	return err
}

func (c *RedisCache) InvalidateQueries(ctx context.Context, collection string) error {
	keys, err := c.client.SMembers(ctx, c.queriesKey(collection)).Result()
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, c.entryKey(k))
			p.SRem(ctx, c.keysKey(), k)
		}
		p.Del(ctx, c.queriesKey(collection))
		p.SRem(ctx, c.collectionsKey(), collection)
		return nil
	})
	return err
}

func (c *RedisCache) Clear(ctx context.Context) error {
	keys, err := c.client.SMembers(ctx, c.keysKey()).Result()
	if err != nil {
		return err
	}
	collections, err := c.client.SMembers(ctx, c.collectionsKey()).Result()
	if err != nil {
		return err
	}
	del := make([]string, 0, len(keys)+len(collections)+2)
	for _, k := range keys {
		del = append(del, c.entryKey(k))
	}
	for _, col := range collections {
		del = append(del, c.queriesKey(col))
	}
	del = append(del, c.keysKey(), c.collectionsKey())
	return c.client.Del(ctx, del...).Err()
}
