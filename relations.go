package docgate

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultRelations returns the ownership predicates behind the built-in
// relational markers.
func DefaultRelations() *Relations {
	r := NewRelations()
	r.Register("", MarkerOwner, NewExprBuilder().DocFieldIsSession(FieldUserID).DocFieldIsSession(FieldID).Build())
	r.Register("", MarkerHost, NewExprBuilder().DocFieldIsSession(FieldHostID).Build())
	r.Register("", MarkerParticipant, NewExprBuilder().DocListHasSession(FieldParticipants).Build())
	return r
}

// Relations maps relational markers to the condition that grants them. A
// condition registered for a collection overrides the global one ("").
type Relations struct {
	mu    sync.RWMutex
	exprs map[string]map[string]Expr
}

func NewRelations() *Relations {
	return &Relations{exprs: make(map[string]map[string]Expr)}
}

// Register binds marker to cond for collection, or globally when collection
// is empty.
func (r *Relations) Register(collection, marker string, cond Expr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.exprs[collection]
	if !ok {
		m = make(map[string]Expr)
		r.exprs[collection] = m
	}
	m[marker] = cond
}

// RegisterCondition parses cond and registers it.
func (r *Relations) RegisterCondition(collection, marker, cond string) error {
	if !IsMarker(marker) {
		return fmt.Errorf("relation %q: markers start with '*'", marker)
	}
	e, err := ParseCondition(cond)
	if err != nil {
		return fmt.Errorf("relation %s %s: %w", collection, marker, err)
	}
	r.Register(collection, marker, e)
	return nil
}

// Lookup returns the condition for marker on collection.
func (r *Relations) Lookup(collection, marker string) (Expr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.exprs[collection][marker]; ok {
		return e, true
	}
	e, ok := r.exprs[""][marker]
	return e, ok
}

// Describe lists "collection marker: condition" lines in sorted order.
func (r *Relations) Describe() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0)
	for c, m := range r.exprs {
		scope := c
		if scope == "" {
			scope = "*"
		}
		for marker, e := range m {
			out = append(out, fmt.Sprintf("%s %s: %s", scope, marker, e.String()))
		}
	}
	sort.Strings(out)
	return out
}
