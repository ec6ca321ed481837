package stats

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the value held by a Scalar.
type Kind uint8

const (
	KindText  Kind = iota // zero value, so Scalar{} is the empty sentinel
	KindInt
	KindFloat // only produced by formula providers, never by Decode
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Scalar is one typed report field. Fields are typed by content: a run of
// digits is an integer, anything else is text.
type Scalar struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Empty is the "not applicable" sentinel for an empty report field.
// It is Text(""), never Int(0).
var Empty = Scalar{}

func Int(v int64) Scalar     { return Scalar{kind: KindInt, i: v} }
func Float(v float64) Scalar { return Scalar{kind: KindFloat, f: v} }
func Text(v string) Scalar   { return Scalar{kind: KindText, s: v} }

func (s Scalar) Kind() Kind { return s.kind }

// IsEmpty reports whether s is the empty-field sentinel.
func (s Scalar) IsEmpty() bool { return s.kind == KindText && s.s == "" }

// IsNumeric reports whether s holds an Int or a Float.
func (s Scalar) IsNumeric() bool { return s.kind == KindInt || s.kind == KindFloat }

// Int64 returns the integer value; ok is false for non-Int scalars.
func (s Scalar) Int64() (int64, bool) {
	if s.kind != KindInt {
		return 0, false
	}
	return s.i, true
}

// Float64 returns the numeric value of an Int or Float.
func (s Scalar) Float64() (float64, bool) {
	switch s.kind {
	case KindInt:
		return float64(s.i), true
	case KindFloat:
		return s.f, true
	}
	return 0, false
}

// Equal is strict: kinds must match before values are compared.
func (s Scalar) Equal(o Scalar) bool {
	if s.kind != o.kind {
		return false
	}
	switch s.kind {
	case KindInt:
		return s.i == o.i
	case KindFloat:
		return s.f == o.f
	default:
		return s.s == o.s
	}
}

func (s Scalar) String() string {
	switch s.kind {
	case KindInt:
		return strconv.FormatInt(s.i, 10)
	case KindFloat:
		return strconv.FormatFloat(s.f, 'f', -1, 64)
	default:
		return s.s
	}
}

// MarshalJSON emits numbers for numeric scalars and strings otherwise.
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindInt:
		return json.Marshal(s.i)
	case KindFloat:
		return json.Marshal(s.f)
	default:
		return json.Marshal(s.s)
	}
}

// FromAny converts a decoded YAML/JSON literal into a Scalar.
// Whole-number floats stay Int so that `value: 0` in a config compares
// equal to a decoded "0" field.
func FromAny(v any) (Scalar, error) {
	switch n := v.(type) {
	case nil:
		return Empty, nil
	case string:
		return Text(n), nil
	case int:
		return Int(int64(n)), nil
	case int64:
		return Int(n), nil
	case uint64:
		return Int(int64(n)), nil
	case float64:
		if n == float64(int64(n)) {
			return Int(int64(n)), nil
		}
		return Float(n), nil
	case bool:
		return Scalar{}, fmt.Errorf("boolean literal %v is not a report value", n)
	case Scalar:
		return n, nil
	}
	return Scalar{}, fmt.Errorf("unsupported literal type %T", v)
}
