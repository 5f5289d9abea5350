package stores

import (
	"context"
	"sync"

	"github.com/oarkflow/docgate"
)

// MemoryStore keeps documents in memory. It is the store used by tests and
// by single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]map[string]docgate.Document
	opts    *options
	ownFeed bool
}

var _ docgate.Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	s := &MemoryStore{data: make(map[string]map[string]docgate.Document), opts: o}
	if o.feed == nil {
		o.feed = NewMemoryFeed()
		s.ownFeed = true
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (docgate.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[collection][id]
	if !ok {
		return nil, false, nil
	}
	return withID(d, id), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data docgate.Document, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.opts.now()
	s.mu.Lock()
	col, ok := s.data[collection]
	if !ok {
		col = make(map[string]docgate.Document)
		s.data[collection] = col
	}
	col[id] = mergeForWrite(col[id], data, merge, now)
	s.mu.Unlock()
	return s.publish(ctx, Change{Collection: collection, ID: id, Op: OpSet, At: now})
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data[collection], id)
	s.mu.Unlock()
	return s.publish(ctx, Change{Collection: collection, ID: id, Op: OpDelete, At: s.opts.now()})
}

func (s *MemoryStore) Query(ctx context.Context, collection string, q docgate.Query) ([]docgate.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := make([]docgate.Document, 0, len(s.data[collection]))
	for id, d := range s.data[collection] {
		all = append(all, withID(d, id))
	}
	s.mu.RUnlock()
	return docgate.ApplyQuery(all, q), nil
}

func (s *MemoryStore) WatchDocument(ctx context.Context, collection, id string) (<-chan docgate.DocumentSnapshot, error) {
	return watchDocument(ctx, s.opts.feed, collection, id, func(ctx context.Context) (docgate.Document, bool, error) {
		return s.Get(context.WithoutCancel(ctx), collection, id)
	})
}

func (s *MemoryStore) WatchQuery(ctx context.Context, collection string, q docgate.Query) (<-chan docgate.QuerySnapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return watchQuery(ctx, s.opts.feed, collection, func(ctx context.Context) ([]docgate.Document, error) {
		return s.Query(context.WithoutCancel(ctx), collection, q)
	})
}

// Feed returns the change feed the store publishes on.
func (s *MemoryStore) Feed() ChangeFeed { return s.opts.feed }

func (s *MemoryStore) Close() error {
	if s.ownFeed {
		return s.opts.feed.Close()
	}
	return nil
}

func (s *MemoryStore) publish(ctx context.Context, c Change) error {
	if err := s.opts.feed.Publish(ctx, c); err != nil {
		s.opts.logger.Warn("publish change failed", "collection", c.Collection, "id", c.ID, "error", err)
	}
	return nil
}
