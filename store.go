package docgate

import "context"

// Store is the remote document store the gateway fronts. Implementations
// live in the stores package.
type Store interface {
	// Get returns the document with its id under "id", and whether it exists.
	Get(ctx context.Context, collection, id string) (Document, bool, error)
	// Set writes data. With merge the fields are merged into the existing
	// document, otherwise the document is replaced. ServerTimestamp
	// placeholders are resolved to the store clock.
	Set(ctx context.Context, collection, id string, data Document, merge bool) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// WatchDocument emits the current state of the document and then every
	// change until ctx is cancelled, after which the channel is closed.
	WatchDocument(ctx context.Context, collection, id string) (<-chan DocumentSnapshot, error)
	// WatchQuery emits the current result set of q and then the new result
	// set after every change to the collection.
	WatchQuery(ctx context.Context, collection string, q Query) (<-chan QuerySnapshot, error)
	Close() error
}

// DocumentSnapshot is one emission of a document watch. Doc is nil when the
// document does not exist.
type DocumentSnapshot struct {
	Doc Document
	Err error
}

// QuerySnapshot is one emission of a query watch.
type QuerySnapshot struct {
	Docs []Document
	Err  error
}
