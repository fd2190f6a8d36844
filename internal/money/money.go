// Package money holds the decimal helpers used for every ledger amount.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tolerance is the largest |debit - credit| accepted as balanced.
var Tolerance = decimal.New(5, -3)

// Zero is the decimal zero value.
var Zero = decimal.Zero

// Round2 rounds half away from zero to two places.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Round3 rounds half away from zero to three places.
func Round3(d decimal.Decimal) decimal.Decimal { return d.Round(3) }

// WithinTolerance reports |a-b| <= Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return WithinCustom(a, b, Tolerance)
}

// WithinCustom reports |a-b| <= tol.
func WithinCustom(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

// Sum adds values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Parse reads a decimal string, rejecting empty input.
func Parse(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return d, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// Fixed renders the amount with two decimals for storage.
func Fixed(d decimal.Decimal) string { return d.StringFixed(2) }
