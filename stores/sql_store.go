package stores

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/docgate"
)

// SQLStore persists documents as JSON rows in a SQL database through
// squealx. createdAt and updatedAt live in their own columns.
type SQLStore struct {
	db      *squealx.DB
	opts    *options
	ownFeed bool
}

var _ docgate.Store = (*SQLStore)(nil)

// NewSQLStore runs the migrations and returns the store.
func NewSQLStore(ctx context.Context, db *squealx.DB, opts ...Option) (*SQLStore, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	s := &SQLStore{db: db, opts: o}
	if o.feed == nil {
		o.feed = NewMemoryFeed()
		s.ownFeed = true
	}
	return s, nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (docgate.Document, bool, error) {
	q := `SELECT data, created_at, updated_at FROM documents WHERE collection = :collection AND id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"collection": collection, "id": id})
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, false, r.Err()
	}
	var data string
	var createdRaw, updatedRaw any
	if err := r.Scan(&data, &createdRaw, &updatedRaw); err != nil {
		return nil, false, err
	}
	doc, err := decodeRow(id, data, createdRaw, updatedRaw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, true, nil
}

func (s *SQLStore) Set(ctx context.Context, collection, id string, data docgate.Document, merge bool) error {
	var existing docgate.Document
	if merge {
		cur, ok, err := s.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		if ok {
			existing = cur
		}
	}
	now := s.opts.now()
	doc := mergeForWrite(existing, data, merge, now)
	createdAt := popTime(doc, docgate.FieldCreatedAt)
	updatedAt := popTime(doc, docgate.FieldUpdatedAt)
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	q := `INSERT INTO documents(collection, id, data, created_at, updated_at) VALUES(:collection, :id, :data, :created_at, :updated_at)
ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at, created_at = COALESCE(excluded.created_at, documents.created_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"collection": collection,
		"id":         id,
		"data":       string(payload),
		"created_at": sqlNullTimeOrNil(createdAt),
		"updated_at": sqlNullTimeOrNil(updatedAt),
	})
	if err != nil {
		return err
	}
	s.publish(ctx, Change{Collection: collection, ID: id, Op: OpSet, At: now})
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	q := `DELETE FROM documents WHERE collection = :collection AND id = :id`
	if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"collection": collection, "id": id}); err != nil {
		return err
	}
	s.publish(ctx, Change{Collection: collection, ID: id, Op: OpDelete, At: s.opts.now()})
	return nil
}

var pushdownField = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)*$`)

// Query narrows rows in SQL with string equality filters and evaluates the
// full query over the remaining documents.
func (s *SQLStore) Query(ctx context.Context, collection string, query docgate.Query) ([]docgate.Document, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString(`SELECT id, data, created_at, updated_at FROM documents WHERE collection = :collection`)
	params := map[string]any{"collection": collection}
	for i, f := range query.Filters {
		v, ok := f.Value.(string)
		if f.Op != docgate.OpEqual || !ok || !pushdownField.MatchString(f.Field) ||
			f.Field == docgate.FieldID || f.Field == docgate.FieldCreatedAt || f.Field == docgate.FieldUpdatedAt {
			continue
		}
		name := fmt.Sprintf("w%d", i)
		fmt.Fprintf(&sb, " AND json_extract(data, '$.%s') = :%s", f.Field, name)
		params[name] = v
	}
	r, err := s.db.NamedQueryContext(ctx, sb.String(), params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	docs := make([]docgate.Document, 0)
	for r.Next() {
		var id, data string
		var createdRaw, updatedRaw any
		if err := r.Scan(&id, &data, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		doc, err := decodeRow(id, data, createdRaw, updatedRaw)
		if err != nil {
			s.opts.logger.Warn("skipping undecodable row", "collection", collection, "id", id, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return docgate.ApplyQuery(docs, query), nil
}

func (s *SQLStore) WatchDocument(ctx context.Context, collection, id string) (<-chan docgate.DocumentSnapshot, error) {
	return watchDocument(ctx, s.opts.feed, collection, id, func(ctx context.Context) (docgate.Document, bool, error) {
		return s.Get(context.WithoutCancel(ctx), collection, id)
	})
}

func (s *SQLStore) WatchQuery(ctx context.Context, collection string, q docgate.Query) (<-chan docgate.QuerySnapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return watchQuery(ctx, s.opts.feed, collection, func(ctx context.Context) ([]docgate.Document, error) {
		return s.Query(context.WithoutCancel(ctx), collection, q)
	})
}

// Close closes the store's own feed. The database belongs to the caller.
func (s *SQLStore) Close() error {
	if s.ownFeed {
		return s.opts.feed.Close()
	}
	return nil
}

func (s *SQLStore) publish(ctx context.Context, c Change) {
	if err := s.opts.feed.Publish(ctx, c); err != nil {
		s.opts.logger.Warn("publish change failed", "collection", c.Collection, "id", c.ID, "error", err)
	}
}

func decodeRow(id, data string, createdRaw, updatedRaw any) (docgate.Document, error) {
	doc := docgate.Document{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, err
	}
	doc[docgate.FieldID] = id
	if t, ok := scanTime(createdRaw); ok {
		doc[docgate.FieldCreatedAt] = t
	}
	if t, ok := scanTime(updatedRaw); ok {
		doc[docgate.FieldUpdatedAt] = t
	}
	return doc, nil
}

// popTime removes field from d and returns it as a time when it holds one.
func popTime(d docgate.Document, field string) time.Time {
	v, ok := d[field]
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		delete(d, field)
		return t
	case string:
		if parsed, err := parseFlexibleTime(t); err == nil {
			delete(d, field)
			return parsed
		}
	}
	return time.Time{}
}
