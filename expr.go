package docgate

import (
	"fmt"
	"strings"
)

// ============================================================================
// EXPRESSION LANGUAGE (relational conditions)
// ============================================================================

// Expr is a condition evaluated against a session and a document.
type Expr interface {
	Evaluate(ctx *EvalContext) (bool, error)
	String() string
}

// EvalContext provides data for expression evaluation
type EvalContext struct {
	Session    *Session
	Doc        Document
	Collection string
	Action     Action
}

// AndExpr represents logical AND
type AndExpr struct {
	Left  Expr
	Right Expr
}

func (e *AndExpr) Evaluate(ctx *EvalContext) (bool, error) {
	left, err := e.Left.Evaluate(ctx)
	if err != nil || !left {
		return false, err
	}
	return e.Right.Evaluate(ctx)
}

func (e *AndExpr) String() string {
	return fmt.Sprintf("(%s && %s)", e.Left.String(), e.Right.String())
}

// OrExpr represents logical OR
type OrExpr struct {
	Left  Expr
	Right Expr
}

func (e *OrExpr) Evaluate(ctx *EvalContext) (bool, error) {
	left, err := e.Left.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	if left {
		return true, nil
	}
	return e.Right.Evaluate(ctx)
}

func (e *OrExpr) String() string {
	return fmt.Sprintf("(%s || %s)", e.Left.String(), e.Right.String())
}

// EqExpr represents equality check. Value may be a literal or a field
// reference such as "session.uid". A missing left field never matches.
type EqExpr struct {
	Field string
	Value any
}

func (e *EqExpr) Evaluate(ctx *EvalContext) (bool, error) {
	val := getField(ctx, e.Field)
	if val == nil {
		return false, nil
	}
	return valuesEqual(val, resolveValue(ctx, e.Value)), nil
}

func (e *EqExpr) String() string {
	return fmt.Sprintf("%s == %s", e.Field, formatOperand(e.Value))
}

// NeExpr represents inequality check
type NeExpr struct {
	Field string
	Value any
}

func (e *NeExpr) Evaluate(ctx *EvalContext) (bool, error) {
	val := getField(ctx, e.Field)
	if val == nil {
		return false, nil
	}
	return !valuesEqual(val, resolveValue(ctx, e.Value)), nil
}

func (e *NeExpr) String() string {
	return fmt.Sprintf("%s != %s", e.Field, formatOperand(e.Value))
}

// InExpr represents membership of a field value in a literal list
type InExpr struct {
	Field  string
	Values []any
}

func (e *InExpr) Evaluate(ctx *EvalContext) (bool, error) {
	val := getField(ctx, e.Field)
	if val == nil {
		return false, nil
	}
	for _, v := range e.Values {
		if valuesEqual(val, resolveValue(ctx, v)) {
			return true, nil
		}
	}
	return false, nil
}

func (e *InExpr) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = formatOperand(v)
	}
	return fmt.Sprintf("%s in [%s]", e.Field, strings.Join(parts, ", "))
}

// ContainsExpr checks that an array field holds Value. Elements may be bare
// values or objects carrying the value under "id".
type ContainsExpr struct {
	Field string
	Value any
}

func (e *ContainsExpr) Evaluate(ctx *EvalContext) (bool, error) {
	arr, ok := asSlice(getField(ctx, e.Field))
	if !ok {
		return false, nil
	}
	want := resolveValue(ctx, e.Value)
	if want == nil {
		return false, nil
	}
	for _, item := range arr {
		switch it := item.(type) {
		case map[string]any:
			if valuesEqual(it[FieldID], want) {
				return true, nil
			}
		case Document:
			if valuesEqual(it[FieldID], want) {
				return true, nil
			}
		default:
			if valuesEqual(it, want) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *ContainsExpr) String() string {
	return fmt.Sprintf("%s contains %s", e.Field, formatOperand(e.Value))
}

// GteExpr represents greater-than-or-equal check
type GteExpr struct {
	Field string
	Value any
}

func (e *GteExpr) Evaluate(ctx *EvalContext) (bool, error) {
	val := getField(ctx, e.Field)
	rv := resolveValue(ctx, e.Value)
	if val == nil || !sameKind(val, rv) {
		return false, nil
	}
	return CompareValues(val, rv) >= 0, nil
}

func (e *GteExpr) String() string {
	return fmt.Sprintf("%s >= %s", e.Field, formatOperand(e.Value))
}

// NotExpr negates its operand
type NotExpr struct {
	Expr Expr
}

func (e *NotExpr) Evaluate(ctx *EvalContext) (bool, error) {
	ok, err := e.Expr.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (e *NotExpr) String() string {
	return fmt.Sprintf("!(%s)", e.Expr.String())
}

// TrueExpr always returns true
type TrueExpr struct{}

func (e *TrueExpr) Evaluate(ctx *EvalContext) (bool, error) {
	return true, nil
}

func (e *TrueExpr) String() string {
	return "true"
}

// fieldRef marks an operand that refers to a field rather than a literal.
type fieldRef string

// Ref builds an operand that resolves to the named field at evaluation time.
func Ref(field string) any { return fieldRef(field) }

func resolveValue(ctx *EvalContext, v any) any {
	if ref, ok := v.(fieldRef); ok {
		return getField(ctx, string(ref))
	}
	return v
}

func formatOperand(v any) string {
	switch vv := v.(type) {
	case fieldRef:
		return string(vv)
	case string:
		return fmt.Sprintf("%q", vv)
	}
	return fmt.Sprintf("%v", v)
}

func isFieldPath(s string) bool {
	return strings.HasPrefix(s, "session.") || strings.HasPrefix(s, "doc.") ||
		s == "collection" || s == "action"
}

// Helper functions for field access
func getField(ctx *EvalContext, field string) any {
	switch {
	case strings.HasPrefix(field, "session."):
		return getSessionField(ctx.Session, field[len("session."):])
	case strings.HasPrefix(field, "doc."):
		v, _ := ctx.Doc.Lookup(field[len("doc."):])
		return v
	case field == "collection":
		return ctx.Collection
	case field == "action":
		return string(ctx.Action)
	}
	return nil
}

func getSessionField(s *Session, field string) any {
	if s == nil {
		return nil
	}
	switch field {
	case "uid":
		return s.UID
	case "role":
		return s.Role()
	}
	if s.Profile == nil {
		return nil
	}
	switch field {
	case "email":
		return s.Profile.Email
	case "displayName":
		return s.Profile.DisplayName
	}
	if strings.HasPrefix(field, "attrs.") {
		v, _ := lookupPath(s.Profile.Attrs, field[len("attrs."):])
		return v
	}
	return nil
}

// ExprBuilder composes conditions fluently.
type ExprBuilder struct {
	expr Expr
}

func NewExprBuilder() *ExprBuilder {
	return &ExprBuilder{}
}

// DocFieldIsSession requires doc.<field> to equal the session uid.
func (b *ExprBuilder) DocFieldIsSession(field string) *ExprBuilder {
	return b.Or(&EqExpr{Field: "doc." + field, Value: Ref("session.uid")})
}

// DocListHasSession requires the doc.<field> array to contain the session uid.
func (b *ExprBuilder) DocListHasSession(field string) *ExprBuilder {
	return b.Or(&ContainsExpr{Field: "doc." + field, Value: Ref("session.uid")})
}

func (b *ExprBuilder) And(other Expr) *ExprBuilder {
	if b.expr == nil {
		b.expr = other
	} else {
		b.expr = &AndExpr{Left: b.expr, Right: other}
	}
	return b
}

func (b *ExprBuilder) Or(other Expr) *ExprBuilder {
	if b.expr == nil {
		b.expr = other
	} else {
		b.expr = &OrExpr{Left: b.expr, Right: other}
	}
	return b
}

func (b *ExprBuilder) Build() Expr {
	if b.expr == nil {
		return &TrueExpr{}
	}
	return b.expr
}
