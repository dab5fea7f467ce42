// Package amount holds the integer arithmetic used for prices, fees and
// royalties. Amounts are whole base units (wei-like) carried in
// decimal.Decimal so that products never overflow.
package amount

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10000

var bpsDenominator = decimal.NewFromInt(BpsDenominator)

// FloorDiv returns floor(n / d) for non-negative operands.
func FloorDiv(n, d decimal.Decimal) decimal.Decimal {
	q, _ := n.QuoRem(d, 0)
	return q
}

// MulBps returns floor(v * bps / 10000).
func MulBps(v decimal.Decimal, bps uint32) decimal.Decimal {
	return FloorDiv(v.Mul(decimal.NewFromInt(int64(bps))), bpsDenominator)
}

// IsWhole reports whether v is a non-negative integer amount.
func IsWhole(v decimal.Decimal) bool {
	return !v.IsNegative() && v.Equal(v.Truncate(0))
}

// Parse reads a non-negative whole amount in base units.
func Parse(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !IsWhole(v) {
		return decimal.Zero, fmt.Errorf("amount %q must be a non-negative whole number of base units", s)
	}
	return v, nil
}

// ValidBps reports whether bps is within [0, 10000].
func ValidBps(bps uint32) bool {
	return bps <= BpsDenominator
}
