package condition

import (
	"strings"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Operator represents a comparison operator.
type Operator string

const (
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpIn  Operator = "in"
	OpNin Operator = "nin"
)

// Operators lists the closed operator set in documentation order.
var Operators = []Operator{OpLt, OpLte, OpEq, OpNe, OpGt, OpGte, OpIn, OpNin}

// Valid reports whether op belongs to the operator set.
func (op Operator) Valid() bool {
	switch op {
	case OpLt, OpLte, OpEq, OpNe, OpGt, OpGte, OpIn, OpNin:
		return true
	}
	return false
}

// WantsList reports whether op takes a list on its right-hand side.
func (op Operator) WantsList() bool {
	return op == OpIn || op == OpNin
}

// compare applies op to a record field and a resolved right-hand side.
func compare(op Operator, left stats.Scalar, right operand) (bool, error) {
	if op.WantsList() != right.isList {
		return false, ErrOperandShape
	}
	switch op {
	case OpEq:
		return left.Equal(right.scalar), nil
	case OpNe:
		return !left.Equal(right.scalar), nil
	case OpLt:
		return order(left, right.scalar) < 0, nil
	case OpLte:
		return order(left, right.scalar) <= 0, nil
	case OpGt:
		return order(left, right.scalar) > 0, nil
	case OpGte:
		return order(left, right.scalar) >= 0, nil
	case OpIn:
		return member(left, right.list), nil
	case OpNin:
		return !member(left, right.list), nil
	default:
		return false, ErrUnknownOperator
	}
}

// order is a three-way comparison.
//
//   - numeric vs numeric: by value (Int and Float mix freely here)
//   - empty sentinel vs numeric: the sentinel sorts below every number
//   - anything else: lexical on the text forms
func order(a, b stats.Scalar) int {
	switch {
	case a.IsNumeric() && b.IsNumeric():
		return orderNumeric(a, b)
	case a.IsEmpty() && b.IsNumeric():
		return -1
	case a.IsNumeric() && b.IsEmpty():
		return 1
	}
	return strings.Compare(a.String(), b.String())
}

func orderNumeric(a, b stats.Scalar) int {
	ai, aok := a.Int64()
	bi, bok := b.Int64()
	if aok && bok {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	af, _ := a.Float64()
	bf, _ := b.Float64()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

// member uses the same strict equality as eq.
func member(v stats.Scalar, set []stats.Scalar) bool {
	for _, elem := range set {
		if v.Equal(elem) {
			return true
		}
	}
	return false
}
