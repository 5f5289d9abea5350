package stores

import (
	"context"

	"github.com/oarkflow/docgate"
)

type getFunc func(ctx context.Context) (docgate.Document, bool, error)

type queryFunc func(ctx context.Context) ([]docgate.Document, error)

// watchDocument emits the current document and re-reads it after every
// change to id. The feed subscription is opened before the first read.
func watchDocument(ctx context.Context, feed ChangeFeed, collection, id string, get getFunc) (<-chan docgate.DocumentSnapshot, error) {
	changes, err := feed.Subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make(chan docgate.DocumentSnapshot, 1)
	go func() {
		defer close(out)
		emit := func() bool {
			doc, ok, err := get(ctx)
			snap := docgate.DocumentSnapshot{Err: err}
			if ok {
				snap.Doc = doc
			}
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-changes:
				if !ok {
					return
				}
				if c.ID != id {
					continue
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out, nil
}

// watchQuery emits the current result set and re-runs the query after
// every change to the collection.
func watchQuery(ctx context.Context, feed ChangeFeed, collection string, run queryFunc) (<-chan docgate.QuerySnapshot, error) {
	changes, err := feed.Subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make(chan docgate.QuerySnapshot, 1)
	go func() {
		defer close(out)
		emit := func() bool {
			docs, err := run(ctx)
			select {
			case out <- docgate.QuerySnapshot{Docs: docs, Err: err}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out, nil
}
