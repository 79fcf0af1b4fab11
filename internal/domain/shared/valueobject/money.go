package valueobject

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DebtEpsilon is the smallest remainder that still counts as owed money.
// Differences below it come from rounding and are reported as zero.
var DebtEpsilon = decimal.New(1, -2)

// ToMinorUnits converts a major-unit amount (e.g. sum) into minor units (e.g. tiyin).
func ToMinorUnits(amount decimal.Decimal, unitsPerMajor int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(unitsPerMajor))
}

// FromMinorUnits converts an integer amount in minor units back into major units.
func FromMinorUnits(minor int64, unitsPerMajor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(unitsPerMajor))
}

// EqualsInMinorUnits reports whether a wire amount given in minor units matches
// the expected major-unit amount exactly.
func EqualsInMinorUnits(minor decimal.Decimal, expected decimal.Decimal, unitsPerMajor int64) bool {
	return minor.Equal(ToMinorUnits(expected, unitsPerMajor))
}

// ClampDebt floors a computed remainder at zero and absorbs sub-epsilon noise.
func ClampDebt(remainder decimal.Decimal) decimal.Decimal {
	if remainder.LessThan(DebtEpsilon) {
		return decimal.Zero
	}
	return remainder
}

// ParseAmount parses a decimal amount, rejecting negatives.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount string: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount cannot be negative: %s", s)
	}
	return d, nil
}
