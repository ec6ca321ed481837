package condition

import (
	"errors"
	"fmt"
)

var (
	ErrMissingHeader   = errors.New("criterion has no header")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrMissingValue    = errors.New("criterion has no value")
	ErrNoValue         = errors.New("provider produced no value")
	ErrOperandShape    = errors.New("operator and value shape disagree")
)

// CriterionError describes why a single criterion failed closed.
type CriterionError struct {
	Header string
	Op     Operator
	Err    error
}

func (e *CriterionError) Error() string {
	return fmt.Sprintf("criterion %q %s: %v", e.Header, e.Op, e.Err)
}

func (e *CriterionError) Unwrap() error { return e.Err }
