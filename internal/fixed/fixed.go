// Package fixed implements the truncating fixed-point arithmetic used for
// every price, ratio and token amount in the engine.
//
// Ratios carry 18 fractional digits and are truncated toward zero, never
// rounded. Token amounts are whole numbers; multiplying an amount by a ratio
// floors the result back to a whole number.
package fixed

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits carried by a ratio.
const Precision int32 = 18

// NeverStale is the last-updated marker for prices that do not expire
// (fixed prices, AMM spot prices, exchange rates).
const NeverStale uint64 = math.MaxUint64

var (
	// ErrDivideByZero is returned when a ratio has a zero denominator.
	ErrDivideByZero = errors.New("fixed: division by zero")

	// ErrNegative is returned when a subtraction would go below zero.
	ErrNegative = errors.New("fixed: result would be negative")

	One = decimal.NewFromInt(1)
)

// Ratio returns num/den truncated to Precision digits.
func Ratio(num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, ErrDivideByZero
	}
	q, _ := num.QuoRem(den, Precision)
	return q, nil
}

// Inv returns 1/x truncated to Precision digits.
func Inv(x decimal.Decimal) (decimal.Decimal, error) {
	return Ratio(One, x)
}

// Mul multiplies two ratios, truncating to Precision digits.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Precision)
}

// MulFloor multiplies a whole amount by a ratio and floors to a whole amount.
func MulFloor(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Floor()
}

// MulDivFloor computes floor(a*b/c) exactly, without intermediate truncation.
func MulDivFloor(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	if c.IsZero() {
		return decimal.Zero, ErrDivideByZero
	}
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q, nil
}

// Sub returns a-b, failing if the result would be negative.
func Sub(a, b decimal.Decimal) (decimal.Decimal, error) {
	if a.LessThan(b) {
		return decimal.Zero, ErrNegative
	}
	return a.Sub(b), nil
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// IsWhole reports whether x is a non-negative whole amount.
func IsWhole(x decimal.Decimal) bool {
	return !x.IsNegative() && x.Equal(x.Floor())
}
