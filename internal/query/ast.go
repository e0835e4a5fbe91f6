package query

import "strings"

// Field is one of the recognized span field paths.
type Field int

const (
	FieldStatus Field = iota
	FieldTy
	FieldName
	FieldTimestamp
	FieldDuration
)

func (f Field) String() string {
	switch f {
	case FieldStatus:
		return "status"
	case FieldTy:
		return "ty"
	case FieldName:
		return "name"
	case FieldTimestamp:
		return "timestamp_in_ms"
	case FieldDuration:
		return "transaction.duration_in_ms"
	default:
		return "unknown"
	}
}

// Numeric reports whether the field compares as an unsigned integer.
func (f Field) Numeric() bool {
	return f == FieldTimestamp || f == FieldDuration
}

// lookupField resolves a field path, case-insensitively.
func lookupField(name string) (Field, bool) {
	switch strings.ToLower(name) {
	case "status":
		return FieldStatus, true
	case "ty":
		return FieldTy, true
	case "name":
		return FieldName, true
	case "timestamp_in_ms":
		return FieldTimestamp, true
	case "transaction.duration_in_ms":
		return FieldDuration, true
	default:
		return 0, false
	}
}

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	default:
		return "?"
	}
}

// ordering reports whether the operator needs an ordered (numeric) field.
func (o Op) ordering() bool {
	return o == OpGt || o == OpGte || o == OpLt || o == OpLte
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	node() // marker method
}

// CompareExpr is a single field comparison. For numeric fields Num holds the
// coerced literal; for string fields Str holds the raw literal.
type CompareExpr struct {
	Field Field
	Op    Op
	Str   string
	Num   uint64
}

func (CompareExpr) node() {}

// BinaryExpr represents a binary logical expression (AND, OR).
type BinaryExpr struct {
	Op    string // "AND" or "OR"
	Left  Node
	Right Node
}

func (BinaryExpr) node() {}

// NotExpr negates its inner expression.
type NotExpr struct {
	Expr Node
}

func (NotExpr) node() {}
