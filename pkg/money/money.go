// Package money converts between the decimal amounts kept in storage and the
// integer minor units spoken by payment gateways.
//
// Invariants:
//   - Stored amounts are decimal strings with at most two fractional digits.
//   - Conversion to cents is exact; sub-cent values are rejected, never rounded.
//   - Amounts crossing a gateway boundary are strictly positive.
package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when an amount cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNonPositiveAmount is returned for zero or negative amounts.
	ErrNonPositiveAmount = errors.New("amount must be positive")
	// ErrSubCentPrecision is returned when an amount has more than two decimals.
	ErrSubCentPrecision = errors.New("amount has sub-cent precision")
	// ErrAmountTooLarge is returned when cents overflow int64.
	ErrAmountTooLarge = errors.New("amount exceeds maximum safe value")
)

// Scale is the number of fractional digits kept for every supported currency.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Parse reads a decimal string such as "150.00" and validates it.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Validate checks that d is a positive amount with cent precision.
func Validate(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !d.Equal(d.Truncate(Scale)) {
		return ErrSubCentPrecision
	}
	return nil
}

// ToCents converts d into gateway minor units.
func ToCents(d decimal.Decimal) (int64, error) {
	if err := Validate(d); err != nil {
		return 0, err
	}
	cents := d.Mul(hundred)
	if cents.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, ErrAmountTooLarge
	}
	return cents.IntPart(), nil
}

// FromCents converts gateway minor units back into a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Scale)
}

// String renders d with exactly two decimals, the storage representation.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
