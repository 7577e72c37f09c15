package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a comparison operator in an edge condition.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLe Op = "<="
	OpGe Op = ">="
	OpLt Op = "<"
	OpGt Op = ">"
)

type litKind int

const (
	litString litKind = iota
	litNumber
	litBool
)

type literal struct {
	kind litKind
	str  string
	num  float64
	b    bool
}

// Condition is a parsed edge expression of the form `ident op literal`,
// e.g. `var.score >= 0.8` or `status == "done"`.
type Condition struct {
	Ident string
	Op    Op
	lit   literal
}

// operator candidates, two-character forms first so "<=" is not split as "<".
var ops = []Op{OpEq, OpNe, OpLe, OpGe, OpLt, OpGt}

// ParseCondition parses an edge condition expression.
func ParseCondition(s string) (*Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty condition")
	}

	var op Op
	idx := -1
	for _, candidate := range ops {
		if i := strings.Index(s, string(candidate)); i >= 0 {
			op = candidate
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("condition %q: no comparison operator", s)
	}

	lhs := strings.TrimSpace(s[:idx])
	rhs := strings.TrimSpace(s[idx+len(op):])
	if lhs == "" || rhs == "" {
		return nil, fmt.Errorf("condition %q: missing operand", s)
	}
	if !validIdent(lhs) {
		return nil, fmt.Errorf("condition %q: invalid identifier %q", s, lhs)
	}

	lit, err := parseLiteral(rhs)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", s, err)
	}
	if lit.kind != litNumber && op != OpEq && op != OpNe {
		return nil, fmt.Errorf("condition %q: operator %s requires a numeric literal", s, op)
	}
	return &Condition{Ident: lhs, Op: op, lit: lit}, nil
}

func validIdent(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9', r == '.':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func parseLiteral(s string) (literal, error) {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return literal{kind: litString, str: s[1 : len(s)-1]}, nil
		}
	}
	switch s {
	case "true":
		return literal{kind: litBool, b: true}, nil
	case "false":
		return literal{kind: litBool, b: false}, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return literal{kind: litNumber, num: n}, nil
	}
	// bare words compare as strings, matching `var.status == done`
	if validIdent(s) {
		return literal{kind: litString, str: s}, nil
	}
	return literal{}, fmt.Errorf("invalid literal %q", s)
}

// Eval resolves the identifier against the execution variables and applies
// the comparison. The `var.` prefix is optional sugar for the top-level
// variable map. A missing variable is an error, which NextNode treats as a
// non-match.
func (c *Condition) Eval(vars map[string]any) (bool, error) {
	name := strings.TrimPrefix(c.Ident, "var.")
	val, ok := lookup(vars, name)
	if !ok {
		return false, fmt.Errorf("variable %q not set", name)
	}

	switch c.lit.kind {
	case litBool:
		b, ok := val.(bool)
		if !ok {
			return false, fmt.Errorf("variable %q is not a bool", name)
		}
		if c.Op == OpNe {
			return b != c.lit.b, nil
		}
		return b == c.lit.b, nil
	case litNumber:
		n, err := toFloat(val)
		if err != nil {
			return false, fmt.Errorf("variable %q: %w", name, err)
		}
		return compareNumbers(n, c.lit.num, c.Op), nil
	default:
		s := fmt.Sprint(val)
		if c.Op == OpNe {
			return s != c.lit.str, nil
		}
		return s == c.lit.str, nil
	}
}

// lookup resolves a possibly dotted path through nested maps.
func lookup(vars map[string]any, path string) (any, bool) {
	if v, ok := vars[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = vars
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric")
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not numeric")
	}
}

func compareNumbers(a, b float64, op Op) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}
