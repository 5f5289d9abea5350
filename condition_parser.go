package docgate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	inRe       = regexp.MustCompile(`^([a-zA-Z0-9_\.]+)\s+in\s*\[([^\]]*)\]$`)
	containsRe = regexp.MustCompile(`^([a-zA-Z0-9_\.]+)\s+contains\s+(.+)$`)
	compareRe  = regexp.MustCompile(`^([a-zA-Z0-9_\.]+)\s*(==|!=|>=)\s*(.+)$`)
)

// ParseCondition parses a relational condition such as
//
//	doc.userId == session.uid || doc.id == session.uid
//	doc.participants contains session.uid
//	doc.status in ["open", "scheduled"] && doc.hostId != session.uid
//
// "||" binds looser than "&&" and parentheses group. Operands are field
// references (session.*, doc.*), quoted strings, numbers or booleans.
func ParseCondition(s string) (Expr, error) {
	s = trimParens(strings.TrimSpace(s))
	if s == "" || s == "true" {
		return &TrueExpr{}, nil
	}
	if ors := splitTopLevel(s, "||"); len(ors) > 1 {
		return foldConditions(ors, func(l, r Expr) Expr { return &OrExpr{Left: l, Right: r} })
	}
	if ands := splitTopLevel(s, "&&"); len(ands) > 1 {
		return foldConditions(ands, func(l, r Expr) Expr { return &AndExpr{Left: l, Right: r} })
	}
	if strings.HasPrefix(s, "!") {
		inner, err := ParseCondition(s[1:])
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}

	if m := inRe.FindStringSubmatch(s); len(m) == 3 {
		parts := splitCSV(m[2])
		vals := make([]any, 0, len(parts))
		for _, p := range parts {
			vals = append(vals, parseOperand(p))
		}
		return &InExpr{Field: m[1], Values: vals}, nil
	}
	if m := containsRe.FindStringSubmatch(s); len(m) == 3 {
		return &ContainsExpr{Field: m[1], Value: parseOperand(m[2])}, nil
	}
	if m := compareRe.FindStringSubmatch(s); len(m) == 4 {
		left, op, right := m[1], m[2], parseOperand(m[3])
		if !isFieldPath(left) {
			return nil, fmt.Errorf("condition %q: left operand must be a field", s)
		}
		switch op {
		case "==":
			return &EqExpr{Field: left, Value: right}, nil
		case "!=":
			return &NeExpr{Field: left, Value: right}, nil
		default:
			return &GteExpr{Field: left, Value: right}, nil
		}
	}
	return nil, fmt.Errorf("unsupported condition syntax: %s", s)
}

// MustParseCondition is like ParseCondition but panics on error.
func MustParseCondition(s string) Expr {
	e, err := ParseCondition(s)
	if err != nil {
		panic(err)
	}
	return e
}

func foldConditions(parts []string, join func(l, r Expr) Expr) (Expr, error) {
	var out Expr
	for _, p := range parts {
		e, err := ParseCondition(p)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = e
			continue
		}
		out = join(out, e)
	}
	return out, nil
}

// splitTopLevel splits s on sep outside of quotes and brackets.
func splitTopLevel(s, sep string) []string {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(parts, s[start:])
}

// trimParens removes parentheses that wrap the whole of s.
func trimParens(s string) string {
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		depth := 0
		for i := 0; i < len(s); i++ {
			switch s[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 && i < len(s)-1 {
				return s
			}
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func parseOperand(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if isFieldPath(s) {
		return Ref(s)
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// splitCSV splits items like "\"a\",\"b\"" or "a, b" into trimmed parts,
// leaving quotes for parseOperand. Commas inside quotes do not split.
func splitCSV(s string) []string {
	parts := splitTopLevel(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
