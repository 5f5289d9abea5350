package docgate

import (
	"context"
	"sync"
	"sync/atomic"
)

// Unsubscribe releases a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type subscription struct {
	id     uint64
	key    string
	cancel context.CancelFunc
	once   sync.Once
	closed atomic.Bool
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// SubscribeToDocument calls cb with the document every time it changes.
// cb receives nil when the document is deleted, missing, or not readable by
// the session current at the time of the change.
func (g *Gateway) SubscribeToDocument(ctx context.Context, collection, id string, cb func(Document)) (Unsubscribe, error) {
	key := PointKey(collection, id)
	cacheKey := g.pointKey(collection, id)
	sctx, cancel := context.WithCancel(ctx)
	ch, err := g.store.WatchDocument(sctx, g.namespace.Physical(collection), id)
	if err != nil {
		cancel()
		g.logger.Error("watch document failed", "collection", collection, "id", id, "error", err)
		return nil, err
	}
	sub := g.register(key, cancel)
	go func() {
		defer g.release(sub)
		for {
			select {
			case <-sctx.Done():
				return
			case snap, ok := <-ch:
				if !ok || sub.closed.Load() {
					return
				}
				g.deliverDocument(sctx, sub, cacheKey, collection, id, snap, cb)
			}
		}
	}()
	return func() { g.release(sub) }, nil
}

func (g *Gateway) deliverDocument(ctx context.Context, sub *subscription, cacheKey, collection, id string, snap DocumentSnapshot, cb func(Document)) {
	if snap.Err != nil {
		g.logger.Error("document subscription error", "collection", collection, "id", id, "error", snap.Err)
		g.emit(sub, func() { cb(nil) })
		return
	}
	if snap.Doc == nil {
		g.emit(sub, func() { cb(nil) })
		return
	}
	if !g.authorize(collection, ActionRead, id, snap.Doc).Allowed {
		g.emit(sub, func() { cb(nil) })
		return
	}
	if !sub.closed.Load() {
		g.cacheSet(ctx, cacheKey, &CacheEntry{Collection: g.namespace.Physical(collection), Doc: snap.Doc, Timestamp: g.now()})
	}
	doc := snap.Doc.Clone()
	g.emit(sub, func() { cb(doc) })
}

// SubscribeToCollection calls cb with the readable subset of the query
// result every time it changes. Errors are reported as an empty result.
func (g *Gateway) SubscribeToCollection(ctx context.Context, collection string, cb func([]Document), constraints ...Constraint) (Unsubscribe, error) {
	q := BuildQuery(constraints...)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key := QueryKey(collection, constraints)
	cacheKey := g.queryKey(collection, constraints)
	sctx, cancel := context.WithCancel(ctx)
	ch, err := g.store.WatchQuery(sctx, g.namespace.Physical(collection), q)
	if err != nil {
		cancel()
		g.logger.Error("watch query failed", "collection", collection, "key", key, "error", err)
		return nil, err
	}
	sub := g.register(key, cancel)
	go func() {
		defer g.release(sub)
		for {
			select {
			case <-sctx.Done():
				return
			case snap, ok := <-ch:
				if !ok || sub.closed.Load() {
					return
				}
				g.deliverQuery(sctx, sub, cacheKey, collection, snap, cb)
			}
		}
	}()
	return func() { g.release(sub) }, nil
}

func (g *Gateway) deliverQuery(ctx context.Context, sub *subscription, cacheKey, collection string, snap QuerySnapshot, cb func([]Document)) {
	if snap.Err != nil {
		g.logger.Error("collection subscription error", "collection", collection, "key", sub.key, "error", snap.Err)
		g.emit(sub, func() { cb([]Document{}) })
		return
	}
	filtered := g.filterReadable(collection, snap.Docs)
	g.emit(sub, func() { cb(filtered) })
	if !sub.closed.Load() {
		g.cacheSet(ctx, cacheKey, &CacheEntry{Collection: g.namespace.Physical(collection), Query: true, Docs: snap.Docs, Timestamp: g.now()})
	}
}

func (g *Gateway) emit(sub *subscription, fn func()) {
	if sub.closed.Load() {
		return
	}
	fn()
}

// Unsubscribe releases every subscription registered under key.
func (g *Gateway) Unsubscribe(key string) {
	g.subsMu.Lock()
	subs := g.subs[key]
	delete(g.subs, key)
	g.subsMu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

// UnsubscribeAll releases every outstanding subscription.
func (g *Gateway) UnsubscribeAll() {
	g.subsMu.Lock()
	all := g.subs
	g.subs = make(map[string]map[uint64]*subscription)
	g.subsMu.Unlock()
	for _, subs := range all {
		for _, s := range subs {
			s.stop()
		}
	}
}

// ActiveSubscriptions returns the number of registered subscriptions.
func (g *Gateway) ActiveSubscriptions() int {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	n := 0
	for _, subs := range g.subs {
		n += len(subs)
	}
	return n
}

func (g *Gateway) register(key string, cancel context.CancelFunc) *subscription {
	sub := &subscription{id: g.nextSub.Add(1), key: key, cancel: cancel}
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	m, ok := g.subs[key]
	if !ok {
		m = make(map[uint64]*subscription)
		g.subs[key] = m
	}
	m[sub.id] = sub
	return sub
}

func (g *Gateway) release(sub *subscription) {
	sub.stop()
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	if m, ok := g.subs[sub.key]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(g.subs, sub.key)
		}
	}
}
