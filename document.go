package docgate

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Well-known document fields
const (
	FieldID           = "id"
	FieldCreatedAt    = "createdAt"
	FieldUpdatedAt    = "updatedAt"
	FieldUserID       = "userId"
	FieldHostID       = "hostId"
	FieldParticipants = "participants"
)

// Document is a schemaless record identified by (collection, id). Stores
// always expose the id under the "id" key on read.
type Document map[string]any

// ID returns the document id or "" when absent.
func (d Document) ID() string {
	if d == nil {
		return ""
	}
	if s, ok := d[FieldID].(string); ok {
		return s
	}
	return ""
}

// Clone returns a shallow copy of d. Nested maps and slices are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted field path ("profile.role") inside the document.
func (d Document) Lookup(path string) (any, bool) {
	return lookupPath(map[string]any(d), path)
}

func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[path]; ok {
		return v, true
	}
	for i := 0; i < len(path); i++ {
		if path[i] != '.' {
			continue
		}
		head, ok := m[path[:i]]
		if !ok {
			return nil, false
		}
		switch next := head.(type) {
		case map[string]any:
			return lookupPath(next, path[i+1:])
		case Document:
			return lookupPath(next, path[i+1:])
		}
		return nil, false
	}
	return nil, false
}

// Decode converts a document into T through its JSON representation.
func Decode[T any](d Document) (*T, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToDocument converts a struct or map into a Document through its JSON form.
func ToDocument(v any) (Document, error) {
	if d, ok := v.(Document); ok {
		return d, nil
	}
	if m, ok := v.(map[string]any); ok {
		return Document(m), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := Document{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type serverTimestamp struct{}

func (serverTimestamp) String() string { return "serverTimestamp()" }

// ServerTimestamp is a placeholder value resolved by the store to its own
// clock at write time.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp placeholder.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// ResolveServerTimestamps replaces every ServerTimestamp placeholder at the
// top level of d with now.
func ResolveServerTimestamps(d Document, now time.Time) {
	for k, v := range d {
		if IsServerTimestamp(v) {
			d[k] = now
		}
	}
}

// NewID generates a document id for callers creating new documents.
func NewID() string {
	return uuid.NewString()
}
