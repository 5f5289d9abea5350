package docgate

import "context"

// GetAs is GetDocument decoded into T. It returns nil when the document does
// not exist.
func GetAs[T any](ctx context.Context, g *Gateway, collection, id string, useCache bool) (*T, error) {
	doc, err := g.GetDocument(ctx, collection, id, useCache)
	if err != nil || doc == nil {
		return nil, err
	}
	return Decode[T](doc)
}

// ListAs is GetDocuments decoded into T.
func ListAs[T any](ctx context.Context, g *Gateway, collection string, useCache bool, constraints ...Constraint) ([]T, error) {
	docs, err := g.GetDocuments(ctx, collection, useCache, constraints...)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](docs)
}

// TypedPage is a Page decoded into T.
type TypedPage[T any] struct {
	Data    []T
	LastDoc *Cursor
	HasMore bool
}

// PageAs is GetPaginatedDocuments decoded into T.
func PageAs[T any](ctx context.Context, g *Gateway, collection string, pageSize int, after *Cursor, constraints ...Constraint) (*TypedPage[T], error) {
	p, err := g.GetPaginatedDocuments(ctx, collection, pageSize, after, constraints...)
	if err != nil {
		return nil, err
	}
	data, err := decodeAll[T](p.Data)
	if err != nil {
		return nil, err
	}
	return &TypedPage[T]{Data: data, LastDoc: p.LastDoc, HasMore: p.HasMore}, nil
}

// SetAs encodes v and writes it with SetDocument.
func SetAs[T any](ctx context.Context, g *Gateway, collection, id string, v T, merge bool) error {
	doc, err := ToDocument(v)
	if err != nil {
		return err
	}
	return g.SetDocument(ctx, collection, id, doc, merge)
}

func decodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := Decode[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}
