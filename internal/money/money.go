package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrOverflow is returned when an arithmetic result does not fit in an int64.
var ErrOverflow = errors.New("money: amount overflow")

// Amount is a count of currency minor units (cents, pence, ...).
type Amount int64

// Add returns a+b, failing on int64 overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return a + b, nil
}

// Sub returns a-b, failing on int64 overflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, fmt.Errorf("%w: %d - %d", ErrOverflow, a, b)
	}
	return a - b, nil
}

// MulRate multiplies the amount by rate and rounds half away from zero to a
// whole minor unit. Rates are expected in [0,1], so the result never exceeds a.
func (a Amount) MulRate(rate decimal.Decimal) Amount {
	return Amount(decimal.NewFromInt(int64(a)).Mul(rate).Round(0).IntPart())
}

// Decimal returns the amount as a decimal count of minor units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a))
}

// Int64 returns the raw minor-unit count.
func (a Amount) Int64() int64 {
	return int64(a)
}

// Sum adds all amounts, failing on overflow.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, amt := range amounts {
		next, err := total.Add(amt)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
