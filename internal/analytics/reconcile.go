package analytics

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInconsistentAggregation means a breakdown failed to reconcile with its
// total. It indicates a defect, never bad input.
var ErrInconsistentAggregation = errors.New("inconsistent aggregation")

// CurrencyUnit is the reconciliation tolerance.
var CurrencyUnit = decimal.New(1, -2)

// InconsistencyError reports which breakdown failed to reconcile.
type InconsistencyError struct {
	What string
	Got  decimal.Decimal
	Want decimal.Decimal
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s: %s sums to %s, want %s", ErrInconsistentAggregation, e.What, e.Got, e.Want)
}

func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInconsistentAggregation
}

func reconcile(what string, got, want decimal.Decimal) error {
	if got.Sub(want).Abs().GreaterThanOrEqual(CurrencyUnit) {
		return &InconsistencyError{What: what, Got: got, Want: want}
	}
	return nil
}

func reconcileCount(what string, got, want int) error {
	if got != want {
		return &InconsistencyError{What: what, Got: decimal.NewFromInt(int64(got)), Want: decimal.NewFromInt(int64(want))}
	}
	return nil
}

// avg divides sum by n rounded to cents; zero when n is zero.
func avg(sum decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n))).Round(2)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
