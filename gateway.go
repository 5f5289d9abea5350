package docgate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/docgate/logger"
)

// Gateway is the single access point to the document store. It caches
// reads, authorizes every document it returns or mutates against the
// current session and manages live subscriptions. It is safe for concurrent
// use.
type Gateway struct {
	store       Store
	cache       Cache
	ownCache    *RistrettoCache
	cacheTTL    time.Duration
	now         func() time.Time
	permissions Permissions
	relations   *Relations
	authz       *Authorizer
	namespace   Namespace
	logger      logger.Logger
	session     atomic.Pointer[Session]

	subsMu  sync.Mutex
	subs    map[string]map[uint64]*subscription
	nextSub atomic.Uint64

	auditStore AuditStore
	auditMu    sync.RWMutex
	auditCh    chan AuditEntry
	auditDone  chan struct{}
	closed     bool

	closeOnce sync.Once
}

// New builds a gateway in front of store.
func New(store Store, opts ...Option) (*Gateway, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	g := &Gateway{
		store:    store,
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
		logger:   logger.NewPhusluLogger(),
		subs:     make(map[string]map[uint64]*subscription),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.cache == nil {
		cfg := DefaultRistrettoConfig()
		cfg.TTL = g.cacheTTL
		rc, err := NewRistrettoCache(cfg)
		if err != nil {
			return nil, err
		}
		g.cache = rc
		g.ownCache = rc
	}
	g.authz = NewAuthorizer(g.permissions, g.relations)
	if g.auditStore != nil {
		g.auditCh = make(chan AuditEntry, 1024)
		g.auditDone = make(chan struct{})
		go g.auditLoop()
	}
	return g, nil
}

// SetCurrentUser replaces the session used for every later check,
// including pushes on subscriptions that are already open. Pass nil on
// sign-out.
func (g *Gateway) SetCurrentUser(s *Session) {
	g.session.Store(s)
	if s == nil {
		g.logger.Info("session cleared")
		return
	}
	g.logger.Info("session set", "uid", s.UID, "role", s.Role())
}

// CurrentUser returns the active session or nil.
func (g *Gateway) CurrentUser() *Session {
	return g.session.Load()
}

// Authorizer exposes the permission evaluator.
func (g *Gateway) Authorizer() *Authorizer { return g.authz }

// Namespace returns the collection namespace in use.
func (g *Gateway) Namespace() Namespace { return g.namespace }

// Explain evaluates action on doc for the current session and returns the
// decision with its trace.
func (g *Gateway) Explain(collection string, action Action, doc Document) *Decision {
	return g.authz.Explain(g.session.Load(), collection, action, doc)
}

// GetDocument returns the document or nil when it does not exist. A
// document the session may not read yields an *AuthorizationError, also
// when it is served from the cache.
func (g *Gateway) GetDocument(ctx context.Context, collection, id string, useCache bool) (Document, error) {
	key := g.pointKey(collection, id)
	if useCache {
		if e, ok := g.cacheGet(ctx, key); ok && e.Doc != nil {
			if d := g.authorize(collection, ActionRead, id, e.Doc); !d.Allowed {
				return nil, g.denied(collection, ActionRead, id, d)
			}
			g.logger.Debug("cache hit", "key", key)
			return e.Doc.Clone(), nil
		}
	}

	doc, exists, err := g.store.Get(ctx, g.namespace.Physical(collection), id)
	if err != nil {
		g.logger.Error("get document failed", "collection", collection, "id", id, "error", err)
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	if d := g.authorize(collection, ActionRead, id, doc); !d.Allowed {
		return nil, g.denied(collection, ActionRead, id, d)
	}
	g.cacheSet(ctx, key, &CacheEntry{Collection: g.namespace.Physical(collection), Doc: doc, Timestamp: g.now()})
	return doc.Clone(), nil
}

// GetDocuments runs a query and returns only the documents the session may
// read. It never fails for authorization reasons.
func (g *Gateway) GetDocuments(ctx context.Context, collection string, useCache bool, constraints ...Constraint) ([]Document, error) {
	q := BuildQuery(constraints...)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key := g.queryKey(collection, constraints)
	if useCache {
		if e, ok := g.cacheGet(ctx, key); ok {
			filtered := g.filterReadable(collection, e.Docs)
			if len(e.Docs) == 0 || len(filtered) > 0 {
				g.logger.Debug("cache hit", "key", key, "count", len(filtered))
				return filtered, nil
			}
			// nothing cached is readable any more; go back to the store
			g.cacheDelete(ctx, key)
		}
	}

	docs, err := g.store.Query(ctx, g.namespace.Physical(collection), q)
	if err != nil {
		g.logger.Error("query failed", "collection", collection, "key", key, "error", err)
		return nil, err
	}
	g.cacheSet(ctx, key, &CacheEntry{Collection: g.namespace.Physical(collection), Query: true, Docs: docs, Timestamp: g.now()})
	return g.filterReadable(collection, docs), nil
}

// Page is one page of an authorized, cursor-paginated query.
type Page struct {
	Data    []Document `json:"data"`
	LastDoc *Cursor    `json:"lastDoc"`
	HasMore bool       `json:"hasMore"`
}

// GetPaginatedDocuments returns up to pageSize readable documents after the
// cursor. HasMore is set only when the store had more rows and no row of
// this page was filtered out. LastDoc is the cursor of the last readable
// row. Pages are never cached.
func (g *Gateway) GetPaginatedDocuments(ctx context.Context, collection string, pageSize int, after *Cursor, constraints ...Constraint) (*Page, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	cs := make([]Constraint, 0, len(constraints)+2)
	cs = append(cs, constraints...)
	cs = append(cs, Limit(pageSize+1))
	if after != nil {
		cs = append(cs, StartAfter(after))
	}
	q := BuildQuery(cs...)
	if err := q.Validate(); err != nil {
		return nil, err
	}

	docs, err := g.store.Query(ctx, g.namespace.Physical(collection), q)
	if err != nil {
		g.logger.Error("paginated query failed", "collection", collection, "page_size", pageSize, "error", err)
		return nil, err
	}
	rawHasMore := len(docs) > pageSize
	if rawHasMore {
		docs = docs[:pageSize]
	}

	data := make([]Document, 0, len(docs))
	last := -1
	for i, d := range docs {
		if g.authorize(collection, ActionRead, d.ID(), d).Allowed {
			data = append(data, d.Clone())
			last = i
		}
	}
	if len(data) == 0 {
		return &Page{Data: data}, nil
	}
	return &Page{
		Data:    data,
		LastDoc: q.CursorFor(docs[last]),
		HasMore: rawHasMore && len(data) == pageSize,
	}, nil
}

// SetDocument writes data under id after checking write access on
// data plus id. updatedAt is always stamped, createdAt only when the
// document is replaced.
func (g *Gateway) SetDocument(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	check := Document(data).Clone()
	if check == nil {
		check = Document{}
	}
	check[FieldID] = id
	if d := g.authorize(collection, ActionWrite, id, check); !d.Allowed {
		return g.denied(collection, ActionWrite, id, d)
	}

	payload := Document(data).Clone()
	if payload == nil {
		payload = Document{}
	}
	payload[FieldUpdatedAt] = ServerTimestamp
	if !merge {
		payload[FieldCreatedAt] = ServerTimestamp
	}
	if err := g.store.Set(ctx, g.namespace.Physical(collection), id, payload, merge); err != nil {
		g.logger.Error("set document failed", "collection", collection, "id", id, "merge", merge, "error", err)
		return err
	}
	g.invalidate(ctx, collection, id)
	return nil
}

// AddDocument creates a document under a generated id and returns the id.
func (g *Gateway) AddDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := NewID()
	if err := g.SetDocument(ctx, collection, id, data, false); err != nil {
		return "", err
	}
	return id, nil
}

// DeleteDocument removes the document after checking delete access against
// its stored content.
func (g *Gateway) DeleteDocument(ctx context.Context, collection, id string) error {
	physical := g.namespace.Physical(collection)
	doc, exists, err := g.store.Get(ctx, physical, id)
	if err != nil {
		g.logger.Error("get document failed", "collection", collection, "id", id, "op", "delete", "error", err)
		return err
	}
	if !exists {
		return &NotFoundError{Collection: collection, DocumentID: id}
	}
	if d := g.authorize(collection, ActionDelete, id, doc); !d.Allowed {
		return g.denied(collection, ActionDelete, id, d)
	}
	if err := g.store.Delete(ctx, physical, id); err != nil {
		g.logger.Error("delete document failed", "collection", collection, "id", id, "error", err)
		return err
	}
	g.invalidate(ctx, collection, id)
	return nil
}

// ClearCache drops the entry under key, or everything when key is empty.
// Keys name physical collections, see CacheKey.
func (g *Gateway) ClearCache(ctx context.Context, key string) error {
	if key == "" {
		return g.cache.Clear(ctx)
	}
	return g.cache.Delete(ctx, key)
}

// InvalidateCollection drops every cached query of collection.
func (g *Gateway) InvalidateCollection(ctx context.Context, collection string) error {
	return g.cache.InvalidateQueries(ctx, g.namespace.Physical(collection))
}

// Close releases every subscription and stops background work. The store
// is owned by the caller and stays open.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.UnsubscribeAll()
		g.auditMu.Lock()
		g.closed = true
		if g.auditCh != nil {
			close(g.auditCh)
		}
		g.auditMu.Unlock()
		if g.auditDone != nil {
			<-g.auditDone
		}
		if g.ownCache != nil {
			g.ownCache.Close()
		}
	})
	return nil
}

func (g *Gateway) invalidate(ctx context.Context, collection, id string) {
	g.cacheDelete(ctx, g.pointKey(collection, id))
	if err := g.cache.InvalidateQueries(ctx, g.namespace.Physical(collection)); err != nil {
		g.logger.Warn("cache invalidation failed", "collection", collection, "error", err)
	}
}

// CacheKey returns the cache key of a document of a logical collection.
// Cache keys use physical names so gateways in different namespaces can
// share one cache.
func (g *Gateway) CacheKey(collection, id string) string {
	return g.pointKey(collection, id)
}

func (g *Gateway) pointKey(collection, id string) string {
	return PointKey(g.namespace.Physical(collection), id)
}

func (g *Gateway) queryKey(collection string, constraints []Constraint) string {
	return QueryKey(g.namespace.Physical(collection), constraints)
}

func (g *Gateway) cacheGet(ctx context.Context, key string) (*CacheEntry, bool) {
	e, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if !e.Valid(g.now(), g.cacheTTL) {
		g.cacheDelete(ctx, key)
		return nil, false
	}
	return e, true
}

func (g *Gateway) cacheSet(ctx context.Context, key string, e *CacheEntry) {
	if err := g.cache.Set(ctx, key, e); err != nil {
		g.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (g *Gateway) cacheDelete(ctx context.Context, key string) {
	if err := g.cache.Delete(ctx, key); err != nil {
		g.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}

// filterReadable returns copies of the documents the current session may
// read. The result is never nil.
func (g *Gateway) filterReadable(collection string, docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if g.authorize(collection, ActionRead, d.ID(), d).Allowed {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (g *Gateway) authorize(collection string, action Action, id string, doc Document) *Decision {
	s := g.session.Load()
	d := g.authz.Check(s, collection, action, doc)
	g.audit(s, collection, action, id, d)
	return d
}

func (g *Gateway) denied(collection string, action Action, id string, d *Decision) error {
	g.logger.Warn("access denied", "collection", collection, "action", string(action), "id", id, "reason", d.Reason)
	return &AuthorizationError{Collection: collection, Action: action, DocumentID: id, Reason: d.Reason}
}

func (g *Gateway) audit(s *Session, collection string, action Action, id string, d *Decision) {
	if g.auditStore == nil {
		return
	}
	entry := AuditEntry{
		ID:         NewID(),
		Timestamp:  d.Timestamp,
		Role:       s.Role(),
		Action:     action,
		Collection: collection,
		DocumentID: id,
		Decision:   d,
	}
	if s != nil {
		entry.SubjectID = s.UID
	}
	g.auditMu.RLock()
	defer g.auditMu.RUnlock()
	if g.closed {
		return
	}
	select {
	case g.auditCh <- entry:
	default:
		g.logger.Debug("audit queue full, dropping entry", "collection", collection, "id", id)
	}
}

func (g *Gateway) auditLoop() {
	defer close(g.auditDone)
	bg := context.Background()
	for entry := range g.auditCh {
		if err := g.auditStore.LogDecision(bg, &entry); err != nil {
			g.logger.Error("audit write failed", "error", err)
		}
	}
}
