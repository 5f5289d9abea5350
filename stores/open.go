package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/docgate"
	"github.com/oarkflow/docgate/logger"
)

// Backend is everything a gateway needs from the outside world, built from
// a Config.
type Backend struct {
	Store docgate.Store
	// Cache is shared by every gateway built from GatewayOptions and
	// closed with the backend.
	Cache docgate.Cache
	Audit docgate.AuditStore
	Feed  ChangeFeed
	Redis *redis.Client

	db     *sql.DB
	logger logger.Logger
}

// Open connects the store, change feed, cache and audit store named by cfg.
func Open(ctx context.Context, cfg *docgate.Config, l logger.Logger) (*Backend, error) {
	if l == nil {
		l = logger.NewNullLogger()
	}
	b := &Backend{logger: l}
	if cfg.Cache.Backend == "redis" || cfg.Store.Feed == "redis" {
		b.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := b.Redis.Ping(ctx).Err(); err != nil {
			_ = b.Redis.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
	}
	if cfg.Store.Feed == "redis" {
		b.Feed = NewRedisFeed(b.Redis, cfg.Redis.Prefix, l)
	} else {
		b.Feed = NewMemoryFeed()
	}
	if cfg.Cache.Backend == "redis" {
		b.Cache = NewRedisCache(b.Redis, cfg.Redis.Prefix, cfg.CacheTTL())
	} else {
		c, err := cfg.NewCache()
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Cache = c
	}

	opts := []Option{WithFeed(b.Feed), WithLogger(l)}
	switch cfg.Store.Driver {
	case "", "memory":
		b.Store = NewMemoryStore(opts...)
		if cfg.Audit.Enabled {
			b.Audit = docgate.NewMemoryAuditStore()
		}
	case "sqlite":
		dsn := cfg.Store.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if dsn == ":memory:" {
			// every connection would see its own empty database
			sqlDB.SetMaxOpenConns(1)
		}
		b.db = sqlDB
		db := squealx.NewDb(sqlDB, "sqlite", "docgate")
		s, err := NewSQLStore(ctx, db, opts...)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Store = s
		if cfg.Audit.Enabled {
			a, err := NewSQLAuditStore(ctx, db)
			if err != nil {
				_ = b.Close()
				return nil, err
			}
			b.Audit = a
		}
	default:
		_ = b.Close()
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	l.Info("backend opened", "driver", cfg.Store.Driver, "feed", cfg.Store.Feed, "cache", cfg.Cache.Backend)
	return b, nil
}

// GatewayOptions returns cfg's gateway options completed with the backend's
// cache, audit store and logger. Gateways built from them do not close the
// cache; Close does.
func (b *Backend) GatewayOptions(cfg *docgate.Config) ([]docgate.Option, error) {
	opts, err := cfg.GatewayOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, docgate.WithLogger(b.logger))
	if b.Cache != nil {
		opts = append(opts, docgate.WithCache(b.Cache))
	}
	if b.Audit != nil {
		opts = append(opts, docgate.WithAuditStore(b.Audit))
	}
	return opts, nil
}

// Close closes the store, feed, cache, database and redis client.
func (b *Backend) Close() error {
	var errs []error
	if rc, ok := b.Cache.(*docgate.RistrettoCache); ok {
		rc.Close()
	}
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	if b.Feed != nil {
		errs = append(errs, b.Feed.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	if b.Redis != nil {
		errs = append(errs, b.Redis.Close())
	}
	return errors.Join(errs...)
}
