package condition

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Context exposes read-only engine state to providers.
type Context interface {
	LastTotalSessions() int64
	TrackedAggregate() string
}

// Provider computes a right-hand side from the record under evaluation.
// Providers must be free of side effects; ok=false fails the criterion.
type Provider func(rec stats.Record, ctx Context) (v stats.Scalar, ok bool)

type valueKind uint8

const (
	valueNone valueKind = iota
	valueLiteral
	valueList
	valueProvider
)

// Value is the right-hand side of a criterion: a literal, a list of
// literals (for in/nin) or a late-bound provider.
type Value struct {
	kind    valueKind
	literal stats.Scalar
	list    []stats.Scalar
	fn      Provider
	name    string
}

func Literal(s stats.Scalar) Value {
	return Value{kind: valueLiteral, literal: s}
}

func List(items ...stats.Scalar) Value {
	cp := make([]stats.Scalar, len(items))
	copy(cp, items)
	return Value{kind: valueList, list: cp}
}

// Dynamic wraps fn; name is only used for logs and listings.
func Dynamic(name string, fn Provider) Value {
	if fn == nil {
		return Value{}
	}
	return Value{kind: valueProvider, fn: fn, name: name}
}

// IsZero reports whether no value was set.
func (v Value) IsZero() bool { return v.kind == valueNone }

func (v Value) String() string {
	switch v.kind {
	case valueLiteral:
		return fmt.Sprintf("%q", v.literal.String())
	case valueList:
		parts := make([]string, len(v.list))
		for i, s := range v.list {
			parts[i] = fmt.Sprintf("%q", s.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case valueProvider:
		return "<" + v.name + ">"
	}
	return "<none>"
}

// operand is a resolved Value.
type operand struct {
	scalar stats.Scalar
	list   []stats.Scalar
	isList bool
}

func (v Value) resolve(rec stats.Record, ctx Context) (operand, error) {
	switch v.kind {
	case valueLiteral:
		return operand{scalar: v.literal}, nil
	case valueList:
		return operand{list: v.list, isList: true}, nil
	case valueProvider:
		s, ok := v.fn(rec, ctx)
		if !ok {
			return operand{}, ErrNoValue
		}
		return operand{scalar: s}, nil
	}
	return operand{}, ErrMissingValue
}
