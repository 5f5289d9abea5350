package docgate

import (
	"fmt"
	"time"

	"github.com/oarkflow/docgate/logger"
)

// Option configures a Gateway.
type Option func(g *Gateway) error

// Logger is re-exported for callers that only import this package.
type Logger = logger.Logger

// WithLogger installs a Logger on the Gateway
func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) error {
		if l == nil {
			l = logger.NewNullLogger()
		}
		g.logger = l
		return nil
	}
}

// WithCache replaces the default ristretto read cache.
func WithCache(c Cache) Option {
	return func(g *Gateway) error {
		if c == nil {
			return fmt.Errorf("cache must not be nil")
		}
		g.cache = c
		return nil
	}
}

// WithCacheTTL sets how long cached reads stay valid.
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *Gateway) error {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl must be positive, got %s", ttl)
		}
		g.cacheTTL = ttl
		return nil
	}
}

// WithClock overrides the clock used for cache validity.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) error {
		g.now = now
		return nil
	}
}

// WithPermissions replaces the default permission table.
func WithPermissions(p Permissions) Option {
	return func(g *Gateway) error {
		if err := p.Validate(); err != nil {
			return err
		}
		g.permissions = p
		return nil
	}
}

// WithRelations replaces the default relational marker conditions.
func WithRelations(r *Relations) Option {
	return func(g *Gateway) error {
		g.relations = r
		return nil
	}
}

// WithNamespace maps logical collection names to physical ones.
func WithNamespace(ns Namespace) Option {
	return func(g *Gateway) error {
		g.namespace = ns
		return nil
	}
}

// WithAuditStore records every authorization decision asynchronously.
func WithAuditStore(s AuditStore) Option {
	return func(g *Gateway) error {
		g.auditStore = s
		return nil
	}
}

// WithSession sets the initial session.
func WithSession(s *Session) Option {
	return func(g *Gateway) error {
		g.session.Store(s)
		return nil
	}
}
