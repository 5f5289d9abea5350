package docgate

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/oarkflow/date"
)

// Operator is a comparison operator usable in a Where constraint.
type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpLess             Operator = "<"
	OpLessOrEqual      Operator = "<="
	OpGreater          Operator = ">"
	OpGreaterOrEqual   Operator = ">="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual,
		OpIn, OpNotIn, OpArrayContains, OpArrayContainsAny:
		return true
	}
	return false
}

// Direction is a sort direction for OrderBy.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter is a single field predicate.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Order is a single sort key.
type Order struct {
	Field     string
	Direction Direction
}

// Cursor marks a position in an ordered result set. Values holds the
// document's values for each ordering field, ID breaks ties.
type Cursor struct {
	ID     string `json:"id"`
	Values []any  `json:"values,omitempty"`
}

// cursorTime is the JSON form of a time value inside a cursor.
type cursorTime struct {
	Time *time.Time `json:"$time"`
}

// MarshalJSON encodes time values as {"$time": "..."} so they decode back
// as time.Time instead of strings.
func (c Cursor) MarshalJSON() ([]byte, error) {
	out := struct {
		ID     string `json:"id"`
		Values []any  `json:"values,omitempty"`
	}{ID: c.ID}
	for _, v := range c.Values {
		if t, ok := v.(time.Time); ok {
			v = cursorTime{Time: &t}
		}
		out.Values = append(out.Values, v)
	}
	return json.Marshal(out)
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	var in struct {
		ID     string            `json:"id"`
		Values []json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.ID = in.ID
	c.Values = nil
	for _, raw := range in.Values {
		if len(raw) > 0 && raw[0] == '{' {
			var ct cursorTime
			if err := json.Unmarshal(raw, &ct); err == nil && ct.Time != nil {
				c.Values = append(c.Values, *ct.Time)
				continue
			}
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("cursor value: %w", err)
		}
		c.Values = append(c.Values, v)
	}
	return nil
}

// Query is the compiled form of a constraint list as seen by stores.
type Query struct {
	Filters []Filter
	Orders  []Order
	Limit   int
	After   *Cursor
}

// Constraint is a query building block: Where, OrderBy, Limit or StartAfter.
type Constraint interface {
	apply(q *Query)
	key(ordinal int) string
	isOrder() bool
}

type whereConstraint struct{ f Filter }

func (c whereConstraint) apply(q *Query) { q.Filters = append(q.Filters, c.f) }
func (c whereConstraint) isOrder() bool  { return false }
func (c whereConstraint) key(int) string {
	return fmt.Sprintf("where(%s,%s,%s)", c.f.Field, c.f.Op, canonicalValue(c.f.Value))
}

type orderConstraint struct{ o Order }

func (c orderConstraint) apply(q *Query) { q.Orders = append(q.Orders, c.o) }
func (c orderConstraint) isOrder() bool  { return true }
func (c orderConstraint) key(ordinal int) string {
	return fmt.Sprintf("orderBy#%d(%s,%s)", ordinal, c.o.Field, c.o.Direction)
}

type limitConstraint struct{ n int }

func (c limitConstraint) apply(q *Query) { q.Limit = c.n }
func (c limitConstraint) isOrder() bool  { return false }
func (c limitConstraint) key(int) string { return fmt.Sprintf("limit(%d)", c.n) }

type startAfterConstraint struct{ c *Cursor }

func (c startAfterConstraint) apply(q *Query) { q.After = c.c }
func (c startAfterConstraint) isOrder() bool  { return false }
func (c startAfterConstraint) key(int) string {
	if c.c == nil {
		return "startAfter()"
	}
	return fmt.Sprintf("startAfter(%s,%s)", c.c.ID, canonicalValue(c.c.Values))
}

// Where filters documents on field op value.
func Where(field string, op Operator, value any) Constraint {
	return whereConstraint{f: Filter{Field: field, Op: op, Value: value}}
}

// OrderBy sorts results on field. Multiple OrderBy constraints apply in the
// order they are given.
func OrderBy(field string, dir Direction) Constraint {
	if dir == "" {
		dir = Asc
	}
	return orderConstraint{o: Order{Field: field, Direction: dir}}
}

// Limit caps the number of results. The last Limit given wins.
func Limit(n int) Constraint { return limitConstraint{n: n} }

// StartAfter resumes an ordered query after the cursor position.
func StartAfter(c *Cursor) Constraint { return startAfterConstraint{c: c} }

// BuildQuery compiles constraints into a Query.
func BuildQuery(constraints ...Constraint) Query {
	var q Query
	for _, c := range constraints {
		if c != nil {
			c.apply(&q)
		}
	}
	return q
}

// Validate checks operators and limits.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("where: empty field")
		}
		if !f.Op.Valid() {
			return fmt.Errorf("where %s: unsupported operator %q", f.Field, f.Op)
		}
		switch f.Op {
		case OpIn, OpNotIn, OpArrayContainsAny:
			if _, ok := asSlice(f.Value); !ok {
				return fmt.Errorf("where %s %s: value must be an array", f.Field, f.Op)
			}
		}
	}
	for _, o := range q.Orders {
		if o.Direction != Asc && o.Direction != Desc {
			return fmt.Errorf("orderBy %s: unsupported direction %q", o.Field, o.Direction)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

// ConstraintsKey serializes constraints into a canonical, order-independent
// string. Ordering constraints keep their relative position so that
// OrderBy(a), OrderBy(b) and OrderBy(b), OrderBy(a) produce different keys.
func ConstraintsKey(constraints []Constraint) string {
	parts := make([]string, 0, len(constraints))
	ordinal := 0
	for _, c := range constraints {
		if c == nil {
			continue
		}
		parts = append(parts, c.key(ordinal))
		if c.isOrder() {
			ordinal++
		}
	}
	sort.Strings(parts)
	b, _ := json.Marshal(parts)
	return string(b)
}

// QueryKey is the cache and subscription key of a collection query.
func QueryKey(collection string, constraints []Constraint) string {
	return collection + "?" + ConstraintsKey(constraints)
}

// PointKey is the cache and subscription key of a single document.
func PointKey(collection, id string) string {
	return collection + "/" + id
}

func canonicalValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// ============================================================================
// EVALUATION
// ============================================================================

// Matches reports whether d satisfies every filter of q.
func (q Query) Matches(d Document) bool {
	for _, f := range q.Filters {
		if !matchFilter(d, f) {
			return false
		}
	}
	return true
}

// CursorFor returns the cursor of d under q's ordering.
func (q Query) CursorFor(d Document) *Cursor {
	if d == nil {
		return nil
	}
	c := &Cursor{ID: d.ID()}
	for _, o := range q.Orders {
		v, _ := d.Lookup(o.Field)
		c.Values = append(c.Values, v)
	}
	return c
}

// ApplyQuery evaluates q over docs: filter, order (ties broken by id),
// resume after the cursor and apply the limit. docs is not modified.
func ApplyQuery(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if !q.Matches(d) {
			continue
		}
		if !hasOrderFields(d, q.Orders) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareCursor(q.CursorFor(out[i]), q.CursorFor(out[j]), q.Orders) < 0
	})
	if q.After != nil {
		start := len(out)
		for i, d := range out {
			if compareCursor(q.CursorFor(d), q.After, q.Orders) > 0 {
				start = i
				break
			}
		}
		out = out[start:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func hasOrderFields(d Document, orders []Order) bool {
	for _, o := range orders {
		if _, ok := d.Lookup(o.Field); !ok {
			return false
		}
	}
	return true
}

func compareCursor(a, b *Cursor, orders []Order) int {
	for i, o := range orders {
		var av, bv any
		if i < len(a.Values) {
			av = a.Values[i]
		}
		if i < len(b.Values) {
			bv = b.Values[i]
		}
		av, bv = coerceTime(av, bv), coerceTime(bv, av)
		c := CompareValues(av, bv)
		if o.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

// coerceTime parses v as a time when other is one. Cursors written by
// clients carry times as plain strings.
func coerceTime(v, other any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if _, ok := other.(time.Time); !ok {
		return v
	}
	if t, err := date.Parse(s); err == nil {
		return t
	}
	return v
}

func matchFilter(d Document, f Filter) bool {
	v, ok := d.Lookup(f.Field)
	switch f.Op {
	case OpEqual:
		return ok && valuesEqual(v, f.Value)
	case OpNotEqual:
		return ok && v != nil && !valuesEqual(v, f.Value)
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		if !ok || !sameKind(v, f.Value) {
			return false
		}
		c := CompareValues(v, f.Value)
		switch f.Op {
		case OpLess:
			return c < 0
		case OpLessOrEqual:
			return c <= 0
		case OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		vals, _ := asSlice(f.Value)
		return ok && containsValue(vals, v)
	case OpNotIn:
		vals, _ := asSlice(f.Value)
		return ok && v != nil && !containsValue(vals, v)
	case OpArrayContains:
		arr, isArr := asSlice(v)
		return ok && isArr && containsValue(arr, f.Value)
	case OpArrayContainsAny:
		arr, isArr := asSlice(v)
		if !ok || !isArr {
			return false
		}
		vals, _ := asSlice(f.Value)
		for _, want := range vals {
			if containsValue(arr, want) {
				return true
			}
		}
	}
	return false
}

func containsValue(vals []any, v any) bool {
	for _, x := range vals {
		if valuesEqual(x, v) {
			return true
		}
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	switch vv := v.(type) {
	case nil:
		return nil, false
	case []any:
		return vv, true
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// typeRank orders values of different kinds: null, bool, number, time,
// string, then everything else.
func typeRank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := v.(bool); ok {
		return 1
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	if _, ok := v.(time.Time); ok {
		return 3
	}
	if _, ok := v.(string); ok {
		return 4
	}
	return 5
}

func sameKind(a, b any) bool {
	return typeRank(a) == typeRank(b) && typeRank(a) != 5
}

func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues totally orders two field values. Values of different kinds
// order by kind; numbers compare numerically regardless of Go type.
func CompareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case 3:
		return a.(time.Time).Compare(b.(time.Time))
	case 4:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(canonicalValue(a), canonicalValue(b))
}
