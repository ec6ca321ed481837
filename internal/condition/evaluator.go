package condition

import (
	"fmt"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Criterion is a single header/operator/value comparison.
type Criterion struct {
	Header string
	Op     Operator
	Value  Value
}

func (c Criterion) String() string {
	return fmt.Sprintf("%s %s %s", c.Header, c.Op, c.Value)
}

// Evaluate reports whether rec satisfies c. Malformed criteria fail closed.
func Evaluate(c Criterion, rec stats.Record, ctx Context) bool {
	ok, _ := Check(c, rec, ctx)
	return ok
}

// Check is Evaluate with the reason for a closed failure. A nil error with
// false means the comparison itself did not hold.
func Check(c Criterion, rec stats.Record, ctx Context) (bool, error) {
	if c.Header == "" {
		return false, &CriterionError{Header: c.Header, Op: c.Op, Err: ErrMissingHeader}
	}
	if !c.Op.Valid() {
		return false, &CriterionError{Header: c.Header, Op: c.Op, Err: ErrUnknownOperator}
	}
	right, err := c.Value.resolve(rec, ctx)
	if err != nil {
		return false, &CriterionError{Header: c.Header, Op: c.Op, Err: err}
	}
	ok, err := compare(c.Op, rec.Get(c.Header), right)
	if err != nil {
		return false, &CriterionError{Header: c.Header, Op: c.Op, Err: err}
	}
	return ok, nil
}
