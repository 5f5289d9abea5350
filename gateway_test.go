package docgate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/oarkflow/docgate"
	"github.com/oarkflow/docgate/logger"
	"github.com/oarkflow/docgate/stores"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGateway(t *testing.T, opts ...docgate.Option) (*docgate.Gateway, *stores.MemoryStore) {
	t.Helper()
	store := stores.NewMemoryStore()
	base := []docgate.Option{
		docgate.WithCache(docgate.NewMemoryCache()),
		docgate.WithLogger(logger.NewNullLogger()),
	}
	g, err := docgate.New(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	t.Cleanup(func() {
		g.Close()
		store.Close()
	})
	return g, store
}

func seed(t *testing.T, s docgate.Store, collection, id string, data docgate.Document) {
	t.Helper()
	if err := s.Set(context.Background(), collection, id, data, false); err != nil {
		t.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := docgate.New(nil); !errors.Is(err, docgate.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestMeetingParticipantScenario(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t)
	seed(t, store, "meetings", "m1", docgate.Document{"hostId": "u2", "participants": []any{"u1"}})
	seed(t, store, "meetings", "m2", docgate.Document{"hostId": "u2", "participants": []any{}})

	g.SetCurrentUser(docgate.NewSession("u1", docgate.RoleUser))
	doc, err := g.GetDocument(ctx, "meetings", "m1", true)
	if err != nil {
		t.Fatalf("get m1: %v", err)
	}
	if doc.ID() != "m1" {
		t.Fatalf("expected m1, got %v", doc)
	}
	_, err = g.GetDocument(ctx, "meetings", "m2", true)
	var ae *docgate.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AuthorizationError for m2, got %v", err)
	}
	if ae.Collection != "meetings" || ae.Action != docgate.ActionRead || ae.DocumentID != "m2" {
		t.Fatalf("unexpected error fields: %+v", ae)
	}
}

func TestMeetingScenarioWithRelationOnlyTable(t *testing.T) {
	ctx := context.Background()
	perms := docgate.DefaultPermissions()
	perms["meetings"] = docgate.PermissionRule{
		Read:   []string{docgate.RoleAdmin, docgate.MarkerHost, docgate.MarkerParticipant},
		Write:  []string{docgate.RoleAdmin, docgate.MarkerHost},
		Delete: []string{docgate.RoleAdmin, docgate.MarkerHost},
	}
	g, store := newTestGateway(t, docgate.WithPermissions(perms), docgate.WithSession(docgate.NewSession("u1", docgate.RoleStudent)))
	seed(t, store, "meetings", "m1", docgate.Document{"hostId": "u2", "participants": []any{map[string]any{"id": "u1"}}})
	seed(t, store, "meetings", "m2", docgate.Document{"hostId": "u2", "participants": []any{}})

	if _, err := g.GetDocument(ctx, "meetings", "m1", false); err != nil {
		t.Fatalf("get m1: %v", err)
	}
	if _, err := g.GetDocument(ctx, "meetings", "m2", false); !errors.Is(err, docgate.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestNilSession(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t)
	seed(t, store, "comments", "c1", docgate.Document{"userId": "u1", "text": "hi"})
	g.SetCurrentUser(nil)

	if _, err := g.GetDocument(ctx, "comments", "c1", true); !docgate.IsAuthorizationError(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	docs, err := g.GetDocuments(ctx, "comments", true)
	if err != nil {
		t.Fatalf("list must not fail: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", docs)
	}
	if err := g.SetDocument(ctx, "comments", "c2", map[string]any{"userId": "u1"}, false); !docgate.IsAuthorizationError(err) {
		t.Fatalf("expected write denied, got %v", err)
	}
	if err := g.DeleteDocument(ctx, "comments", "c1"); !docgate.IsAuthorizationError(err) {
		t.Fatalf("expected delete denied, got %v", err)
	}
}

func TestGetDocumentMissing(t *testing.T) {
	g, _ := newTestGateway(t, docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)))
	doc, err := g.GetDocument(context.Background(), "users", "nobody", true)
	if err != nil || doc != nil {
		t.Fatalf("expected nil, nil for missing document, got %v, %v", doc, err)
	}
}

func TestUngovernedCollectionDeniedForNonAdmin(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t)
	seed(t, store, "invoices", "i1", docgate.Document{"userId": "u1"})

	for _, role := range []string{docgate.RoleUser, docgate.RoleStudent, docgate.RoleTeacher, docgate.RoleProUser} {
		g.SetCurrentUser(docgate.NewSession("u1", role))
		if _, err := g.GetDocument(ctx, "invoices", "i1", false); !docgate.IsAuthorizationError(err) {
			t.Fatalf("%s: expected read denied, got %v", role, err)
		}
		if err := g.SetDocument(ctx, "invoices", "i1", map[string]any{"userId": "u1"}, true); !docgate.IsAuthorizationError(err) {
			t.Fatalf("%s: expected write denied, got %v", role, err)
		}
		if err := g.DeleteDocument(ctx, "invoices", "i1"); !docgate.IsAuthorizationError(err) {
			t.Fatalf("%s: expected delete denied, got %v", role, err)
		}
	}
}

func TestAdminOverride(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)))
	seed(t, store, "users", "u1", docgate.Document{"name": "someone"})
	seed(t, store, "evaluations", "e1", docgate.Document{"userId": "u9"})

	if _, err := g.GetDocument(ctx, "users", "u1", true); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if err := g.SetDocument(ctx, "evaluations", "e1", map[string]any{"score": 9}, true); err != nil {
		t.Fatalf("admin write: %v", err)
	}
	if err := g.DeleteDocument(ctx, "evaluations", "e1"); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if err := g.SetDocument(ctx, "anything_else", "x", map[string]any{"a": 1}, false); err != nil {
		t.Fatalf("admin write on ungoverned collection: %v", err)
	}
}

func TestDeleteMissingDocument(t *testing.T) {
	g, _ := newTestGateway(t, docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)))
	err := g.DeleteDocument(context.Background(), "meetings", "nope")
	if !docgate.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetDocumentChecksWriteOnPayloadWithID(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)))

	// *owner matches doc.id == uid on the users collection
	if err := g.SetDocument(ctx, "users", "u1", map[string]any{"displayName": "Ada"}, false); err != nil {
		t.Fatalf("owner write: %v", err)
	}
	if err := g.SetDocument(ctx, "users", "u2", map[string]any{"displayName": "Eve"}, false); !docgate.IsAuthorizationError(err) {
		t.Fatalf("expected foreign profile write denied, got %v", err)
	}
	if _, ok, _ := store.Get(ctx, "users", "u2"); ok {
		t.Fatalf("denied write must not reach the store")
	}

	doc, _, _ := store.Get(ctx, "users", "u1")
	if _, ok := doc["createdAt"].(time.Time); !ok {
		t.Fatalf("expected createdAt stamped on create, got %v", doc["createdAt"])
	}
	if _, ok := doc["updatedAt"].(time.Time); !ok {
		t.Fatalf("expected updatedAt stamped, got %v", doc["updatedAt"])
	}

	first := doc["createdAt"]
	if err := g.SetDocument(ctx, "users", "u1", map[string]any{"bio": "hello"}, true); err != nil {
		t.Fatalf("merge write: %v", err)
	}
	doc, _, _ = store.Get(ctx, "users", "u1")
	if doc["createdAt"] != first || doc["displayName"] != "Ada" || doc["bio"] != "hello" {
		t.Fatalf("unexpected merged doc: %v", doc)
	}
}

func TestCacheInvalidationAfterSet(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("t1", docgate.RoleTeacher)))
	seed(t, store, "meetings", "m1", docgate.Document{"title": "a", "hostId": "t1"})

	doc, err := g.GetDocument(ctx, "meetings", "m1", true)
	if err != nil || doc["title"] != "a" {
		t.Fatalf("initial get: %v %v", doc, err)
	}
	list, err := g.GetDocuments(ctx, "meetings", true, docgate.Where("hostId", docgate.OpEqual, "t1"))
	if err != nil || len(list) != 1 {
		t.Fatalf("initial list: %v %v", list, err)
	}

	// a write behind the gateway's back is hidden by the cache
	seed(t, store, "meetings", "m2", docgate.Document{"title": "b", "hostId": "t1"})
	list, _ = g.GetDocuments(ctx, "meetings", true, docgate.Where("hostId", docgate.OpEqual, "t1"))
	if len(list) != 1 {
		t.Fatalf("expected cached list of 1, got %d", len(list))
	}

	if err := g.SetDocument(ctx, "meetings", "m1", map[string]any{"title": "changed"}, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, err = g.GetDocument(ctx, "meetings", "m1", true)
	if err != nil || doc["title"] != "changed" {
		t.Fatalf("point cache not invalidated: %v %v", doc, err)
	}
	list, _ = g.GetDocuments(ctx, "meetings", true, docgate.Where("hostId", docgate.OpEqual, "t1"))
	if len(list) != 2 {
		t.Fatalf("query cache not invalidated, got %d docs", len(list))
	}
}

func TestCachedDocumentsMutationIsolated(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("t1", docgate.RoleTeacher)))
	seed(t, store, "meetings", "m1", docgate.Document{"title": "a"})

	doc, _ := g.GetDocument(ctx, "meetings", "m1", true)
	doc["title"] = "mutated by caller"
	again, _ := g.GetDocument(ctx, "meetings", "m1", true)
	if again["title"] != "a" {
		t.Fatalf("cache entry was mutated through a returned document")
	}
}

func TestCacheTTL(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	g, store := newTestGateway(t, docgate.WithClock(clock.Now), docgate.WithSession(docgate.NewSession("t1", docgate.RoleTeacher)))
	seed(t, store, "meetings", "m1", docgate.Document{"title": "v1"})

	if _, err := g.GetDocument(ctx, "meetings", "m1", true); err != nil {
		t.Fatalf("get: %v", err)
	}
	seed(t, store, "meetings", "m1", docgate.Document{"title": "v2"})

	clock.Advance(4*time.Minute + 59*time.Second)
	doc, _ := g.GetDocument(ctx, "meetings", "m1", true)
	if doc["title"] != "v1" {
		t.Fatalf("expected cached v1 inside ttl, got %v", doc["title"])
	}
	clock.Advance(time.Second)
	doc, _ = g.GetDocument(ctx, "meetings", "m1", true)
	if doc["title"] != "v2" {
		t.Fatalf("expected fresh v2 after ttl, got %v", doc["title"])
	}
}

func TestCachedHitReauthorizedForNewSession(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)))
	seed(t, store, "users", "u1", docgate.Document{"name": "Ada"})

	if _, err := g.GetDocument(ctx, "users", "u1", true); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	g.SetCurrentUser(docgate.NewSession("u2", docgate.RoleUser))
	if _, err := g.GetDocument(ctx, "users", "u1", true); !docgate.IsAuthorizationError(err) {
		t.Fatalf("expected cached hit to be denied for new session, got %v", err)
	}
}

func TestCachedQueryRefetchedWhenNothingReadable(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)))
	seed(t, store, "comments", "c1", docgate.Document{"userId": "u1"})

	docs, _ := g.GetDocuments(ctx, "comments", true)
	if len(docs) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(docs))
	}
	seed(t, store, "comments", "c2", docgate.Document{"userId": "u2"})
	g.SetCurrentUser(docgate.NewSession("u2", docgate.RoleUser))
	docs, _ = g.GetDocuments(ctx, "comments", true)
	if len(docs) != 1 || docs[0].ID() != "c2" {
		t.Fatalf("expected the query to be re-run for the new session, got %v", docs)
	}
}

func seedPage(t *testing.T, store docgate.Store, unauthorizedSeq int) {
	t.Helper()
	for i := 1; i <= 11; i++ {
		host := "u1"
		if i == unauthorizedSeq {
			host = "u9"
		}
		seed(t, store, "meetings", docgate.NewID(), docgate.Document{"seq": i, "hostId": host})
	}
}

func TestPaginationUnauthorizedInsidePage(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)))
	seedPage(t, store, 5)

	order := docgate.OrderBy("seq", docgate.Asc)
	p, err := g.GetPaginatedDocuments(ctx, "meetings", 10, nil, order)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(p.Data) != 9 {
		t.Fatalf("expected 9 authorized docs, got %d", len(p.Data))
	}
	if p.HasMore {
		t.Fatalf("hasMore must be false when the page was filtered")
	}
	if p.LastDoc == nil || len(p.LastDoc.Values) != 1 {
		t.Fatalf("expected cursor on seq, got %+v", p.LastDoc)
	}
	if seq, _ := p.LastDoc.Values[0].(int); seq != 10 {
		t.Fatalf("expected cursor at seq 10, got %v", p.LastDoc.Values[0])
	}

	p2, err := g.GetPaginatedDocuments(ctx, "meetings", 10, p.LastDoc, order)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(p2.Data) != 1 || p2.Data[0]["seq"] != 11 || p2.HasMore {
		t.Fatalf("unexpected page 2: %+v", p2)
	}
}

func TestPaginationUnauthorizedSentinel(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)))
	seedPage(t, store, 11)

	order := docgate.OrderBy("seq", docgate.Asc)
	p, err := g.GetPaginatedDocuments(ctx, "meetings", 10, nil, order)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(p.Data) != 10 || !p.HasMore {
		t.Fatalf("expected full page with hasMore, got %d docs hasMore=%v", len(p.Data), p.HasMore)
	}
	p2, err := g.GetPaginatedDocuments(ctx, "meetings", 10, p.LastDoc, order)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(p2.Data) != 0 || p2.HasMore || p2.LastDoc != nil {
		t.Fatalf("expected empty final page, got %+v", p2)
	}
}

func TestPaginationCursorOverTimestampsSurvivesJSON(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := stores.NewMemoryStore(stores.WithClock(clock.Now))
	g, err := docgate.New(store,
		docgate.WithCache(docgate.NewMemoryCache()),
		docgate.WithLogger(logger.NewNullLogger()),
		docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)),
	)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	t.Cleanup(func() {
		g.Close()
		store.Close()
	})
	for i := 0; i < 4; i++ {
		clock.Advance(time.Minute)
		if _, err := g.AddDocument(ctx, "meetings", map[string]any{"seq": i}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	order := docgate.OrderBy(docgate.FieldCreatedAt, docgate.Asc)
	p1, err := g.GetPaginatedDocuments(ctx, "meetings", 2, nil, order)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(p1.Data) != 2 || !p1.HasMore || p1.LastDoc == nil {
		t.Fatalf("unexpected page 1: %+v", p1)
	}

	raw, err := json.Marshal(p1.LastDoc)
	if err != nil {
		t.Fatalf("encode cursor: %v", err)
	}
	var after docgate.Cursor
	if err := json.Unmarshal(raw, &after); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	ts, ok := after.Values[0].(time.Time)
	if !ok {
		t.Fatalf("expected time value after decoding %s, got %T", raw, after.Values[0])
	}

	p2, err := g.GetPaginatedDocuments(ctx, "meetings", 2, &after, order)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(p2.Data) != 2 || p2.Data[0]["seq"] != 2 || p2.Data[1]["seq"] != 3 {
		t.Fatalf("unexpected page 2: %+v", p2.Data)
	}

	// cursors built by clients carry the time as a plain string
	plain := &docgate.Cursor{ID: after.ID, Values: []any{ts.Format(time.RFC3339Nano)}}
	p3, err := g.GetPaginatedDocuments(ctx, "meetings", 2, plain, order)
	if err != nil {
		t.Fatalf("page 2 from string cursor: %v", err)
	}
	if len(p3.Data) != 2 || p3.Data[0]["seq"] != 2 {
		t.Fatalf("unexpected page 2 from string cursor: %+v", p3.Data)
	}
}

func TestPaginationRejectsBadPageSize(t *testing.T) {
	g, _ := newTestGateway(t, docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)))
	if _, err := g.GetPaginatedDocuments(context.Background(), "meetings", 0, nil); err == nil {
		t.Fatalf("expected error for page size 0")
	}
}

func TestNamespaceMapsCollections(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t,
		docgate.WithNamespace(docgate.NamespaceFor("development")),
		docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)),
	)
	if err := g.SetDocument(ctx, "meetings", "m1", map[string]any{"title": "x"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "meetings_dev", "m1"); !ok {
		t.Fatalf("expected write under meetings_dev")
	}
	if _, ok, _ := store.Get(ctx, "meetings", "m1"); ok {
		t.Fatalf("logical collection name must not be used physically")
	}
}

func TestSharedCacheKeepsNamespacesApart(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	cache := docgate.NewMemoryCache()
	t.Cleanup(func() { store.Close() })
	newGateway := func(env string) *docgate.Gateway {
		g, err := docgate.New(store,
			docgate.WithCache(cache),
			docgate.WithLogger(logger.NewNullLogger()),
			docgate.WithNamespace(docgate.NamespaceFor(env)),
			docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)),
		)
		if err != nil {
			t.Fatalf("new gateway: %v", err)
		}
		t.Cleanup(func() { g.Close() })
		return g
	}
	dev, prod := newGateway("development"), newGateway("production")
	seed(t, store, "meetings_dev", "m1", docgate.Document{"title": "dev"})
	seed(t, store, "meetings", "m1", docgate.Document{"title": "prod"})

	d, err := dev.GetDocument(ctx, "meetings", "m1", true)
	if err != nil || d["title"] != "dev" {
		t.Fatalf("dev read: %v %v", d, err)
	}
	p, err := prod.GetDocument(ctx, "meetings", "m1", true)
	if err != nil || p["title"] != "prod" {
		t.Fatalf("prod read served %v (err %v), expected its own document", p, err)
	}
	if dev.CacheKey("meetings", "m1") == prod.CacheKey("meetings", "m1") {
		t.Fatalf("cache keys collide across namespaces")
	}

	if _, err := prod.GetDocuments(ctx, "meetings", true); err != nil {
		t.Fatalf("prod list: %v", err)
	}
	if err := dev.SetDocument(ctx, "meetings", "m1", map[string]any{"title": "dev2"}, true); err != nil {
		t.Fatalf("dev write: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, prod.CacheKey("meetings", "m1")); !ok {
		t.Fatalf("a dev write must not invalidate the prod point entry")
	}
	if cache.Len() != 2 {
		t.Fatalf("expected the prod point and query entries to survive, got %d entries", cache.Len())
	}
}

// recorder collects subscription pushes.
type recorder[T any] struct {
	mu    sync.Mutex
	items []T
	ch    chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{ch: make(chan struct{}, 64)}
}

func (r *recorder[T]) push(v T) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder[T]) wait(t *testing.T) T {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[len(r.items)-1]
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func TestSubscribeToDocumentSessionChange(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)))
	seed(t, store, "users", "u1", docgate.Document{"name": "Ada"})

	rec := newRecorder[docgate.Document]()
	unsub, err := g.SubscribeToDocument(ctx, "users", "u1", rec.push)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	if doc := rec.wait(t); doc == nil || doc["name"] != "Ada" {
		t.Fatalf("expected initial document, got %v", doc)
	}

	g.SetCurrentUser(docgate.NewSession("u2", docgate.RoleUser))
	seed(t, store, "users", "u1", docgate.Document{"name": "Ada L."})
	if doc := rec.wait(t); doc != nil {
		t.Fatalf("expected nil for unauthorized session, got %v", doc)
	}
}

func TestSubscribeToDocumentUpdatesPointCache(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("t1", docgate.RoleTeacher)))
	seed(t, store, "meetings", "m1", docgate.Document{"title": "v1"})

	if _, err := g.GetDocument(ctx, "meetings", "m1", true); err != nil {
		t.Fatalf("get: %v", err)
	}
	rec := newRecorder[docgate.Document]()
	unsub, err := g.SubscribeToDocument(ctx, "meetings", "m1", rec.push)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()
	rec.wait(t)

	seed(t, store, "meetings", "m1", docgate.Document{"title": "v2"})
	if doc := rec.wait(t); doc["title"] != "v2" {
		t.Fatalf("expected v2 push, got %v", doc)
	}
	doc, _ := g.GetDocument(ctx, "meetings", "m1", true)
	if doc["title"] != "v2" {
		t.Fatalf("expected point cache updated by subscription, got %v", doc["title"])
	}
}

func TestSubscribeToDocumentDeleted(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)))
	seed(t, store, "meetings", "m1", docgate.Document{"title": "x"})

	rec := newRecorder[docgate.Document]()
	unsub, err := g.SubscribeToDocument(ctx, "meetings", "m1", rec.push)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()
	rec.wait(t)
	if err := g.DeleteDocument(ctx, "meetings", "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if doc := rec.wait(t); doc != nil {
		t.Fatalf("expected nil after delete, got %v", doc)
	}
}

func TestSubscribeToCollectionFilters(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)))
	seed(t, store, "messages", "a", docgate.Document{"userId": "u1"})
	seed(t, store, "messages", "b", docgate.Document{"userId": "u2"})

	rec := newRecorder[[]docgate.Document]()
	unsub, err := g.SubscribeToCollection(ctx, "messages", rec.push)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	if docs := rec.wait(t); len(docs) != 1 || docs[0].ID() != "a" {
		t.Fatalf("expected only message a, got %v", docs)
	}
	seed(t, store, "messages", "c", docgate.Document{"userId": "u2", "participants": []any{"u1"}})
	if docs := rec.wait(t); len(docs) != 2 {
		t.Fatalf("expected 2 readable messages, got %v", docs)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)))
	seed(t, store, "meetings", "m1", docgate.Document{"title": "x"})

	rec := newRecorder[docgate.Document]()
	unsub, err := g.SubscribeToDocument(ctx, "meetings", "m1", rec.push)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	rec.wait(t)
	unsub()
	unsub()
	if n := g.ActiveSubscriptions(); n != 0 {
		t.Fatalf("expected no active subscriptions, got %d", n)
	}
	before := rec.count()
	seed(t, store, "meetings", "m1", docgate.Document{"title": "y"})
	time.Sleep(50 * time.Millisecond)
	if rec.count() != before {
		t.Fatalf("callback invoked after unsubscribe")
	}
}

func TestUnsubscribeByKeyAndAll(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGateway(t, docgate.WithSession(docgate.NewSession("root", docgate.RoleAdmin)))
	seed(t, store, "meetings", "m1", docgate.Document{"title": "x"})

	var calls atomic.Int64
	cb := func(docgate.Document) { calls.Add(1) }
	if _, err := g.SubscribeToDocument(ctx, "meetings", "m1", cb); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := g.SubscribeToDocument(ctx, "meetings", "m1", cb); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsubList, err := g.SubscribeToCollection(ctx, "meetings", func([]docgate.Document) { calls.Add(1) })
	if err != nil {
		t.Fatalf("subscribe collection: %v", err)
	}
	if n := g.ActiveSubscriptions(); n != 3 {
		t.Fatalf("expected 3 subscriptions, got %d", n)
	}

	g.Unsubscribe(docgate.PointKey("meetings", "m1"))
	if n := g.ActiveSubscriptions(); n != 1 {
		t.Fatalf("expected 1 subscription after Unsubscribe(key), got %d", n)
	}
	g.UnsubscribeAll()
	if n := g.ActiveSubscriptions(); n != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", n)
	}
	// releasing an already released handle is harmless
	unsubList()

	time.Sleep(20 * time.Millisecond)
	before := calls.Load()
	seed(t, store, "meetings", "m1", docgate.Document{"title": "y"})
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != before {
		t.Fatalf("callbacks fired after UnsubscribeAll")
	}
}

func TestAuditStoreRecordsDecisions(t *testing.T) {
	ctx := context.Background()
	audit := docgate.NewMemoryAuditStore()
	store := stores.NewMemoryStore()
	defer store.Close()
	g, err := docgate.New(store,
		docgate.WithCache(docgate.NewMemoryCache()),
		docgate.WithLogger(logger.NewNullLogger()),
		docgate.WithAuditStore(audit),
		docgate.WithSession(docgate.NewSession("u1", docgate.RoleUser)),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	seed(t, store, "users", "u2", docgate.Document{})
	_, _ = g.GetDocument(ctx, "users", "u2", false)
	g.Close()

	denied := false
	entries, _ := audit.GetAccessLog(ctx, docgate.AuditFilter{SubjectID: "u1", Allowed: &denied})
	if len(entries) != 1 {
		t.Fatalf("expected 1 denied entry, got %d", len(entries))
	}
	if entries[0].Collection != "users" || entries[0].DocumentID != "u2" || entries[0].Action != docgate.ActionRead {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestTypedHelpers(t *testing.T) {
	type meeting struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		HostID string `json:"hostId"`
	}
	ctx := context.Background()
	g, _ := newTestGateway(t, docgate.WithSession(docgate.NewSession("t1", docgate.RoleTeacher)))

	if err := docgate.SetAs(ctx, g, "meetings", "m1", meeting{Title: "Grammar", HostID: "t1"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	m, err := docgate.GetAs[meeting](ctx, g, "meetings", "m1", true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.ID != "m1" || m.Title != "Grammar" {
		t.Fatalf("unexpected meeting: %+v", m)
	}
	list, err := docgate.ListAs[meeting](ctx, g, "meetings", false, docgate.Where("hostId", docgate.OpEqual, "t1"))
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
}
