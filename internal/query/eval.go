package query

import (
	"strings"
)

// Record is the view of a span the evaluator consumes. It decouples the
// query package from the tree package.
type Record interface {
	GetStatus() string
	GetTy() string
	GetName() string
	GetTimestampMs() uint64
	// GetDurationMs returns the transaction duration and whether the node
	// has one at all.
	GetDurationMs() (uint64, bool)
}

// Query is an immutable compiled predicate. It is built once before the
// pipeline starts and shared read-only by every filter worker. The zero
// value (and a Query compiled from the empty string) matches everything.
type Query struct {
	source string
	root   Node
}

// Compile parses and validates a query expression. An empty expression
// compiles to the match-everything query used for plain dumping.
func Compile(input string) (*Query, error) {
	if strings.TrimSpace(input) == "" {
		return &Query{}, nil
	}
	root, err := parse(input)
	if err != nil {
		return nil, err
	}
	return &Query{source: input, root: root}, nil
}

// Source returns the original expression text.
func (q *Query) Source() string {
	return q.source
}

// MatchAll reports whether the query passes every node through.
func (q *Query) MatchAll() bool {
	return q == nil || q.root == nil
}

// Matches evaluates the predicate against the record's own fields only;
// it never searches descendants.
func (q *Query) Matches(r Record) bool {
	if q.MatchAll() {
		return true
	}
	return eval(q.root, r)
}

func eval(node Node, r Record) bool {
	switch n := node.(type) {
	case BinaryExpr:
		left := eval(n.Left, r)
		right := eval(n.Right, r)
		if n.Op == "AND" {
			return left && right
		}
		return left || right
	case NotExpr:
		return !eval(n.Expr, r)
	case CompareExpr:
		return evalCompare(n, r)
	default:
		return false
	}
}

func evalCompare(expr CompareExpr, r Record) bool {
	if expr.Field.Numeric() {
		val, ok := numericField(expr.Field, r)
		if !ok {
			// A node without the field (metric or unclosed transaction
			// asked for a duration) never matches, not even !=.
			return false
		}
		return compareNum(val, expr.Op, expr.Num)
	}

	val := stringField(expr.Field, r)
	eq := strings.EqualFold(val, expr.Str)
	if expr.Op == OpNeq {
		return !eq
	}
	return eq
}

func stringField(f Field, r Record) string {
	switch f {
	case FieldStatus:
		return r.GetStatus()
	case FieldTy:
		return r.GetTy()
	case FieldName:
		return r.GetName()
	default:
		return ""
	}
}

func numericField(f Field, r Record) (uint64, bool) {
	switch f {
	case FieldTimestamp:
		return r.GetTimestampMs(), true
	case FieldDuration:
		return r.GetDurationMs()
	default:
		return 0, false
	}
}

func compareNum(val uint64, op Op, lit uint64) bool {
	switch op {
	case OpEq:
		return val == lit
	case OpNeq:
		return val != lit
	case OpGt:
		return val > lit
	case OpGte:
		return val >= lit
	case OpLt:
		return val < lit
	case OpLte:
		return val <= lit
	default:
		return false
	}
}
