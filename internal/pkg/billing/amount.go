package billing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount (rupees, dollars) into the
// integer minor unit the gateways expect. Amounts are never guessed to be in
// minor units already.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, validationErrorf("amount must be positive")
	}
	minor := amount.Mul(hundred).Round(0)
	if !minor.IsPositive() {
		return 0, validationErrorf("amount %s is below the smallest currency unit", amount.String())
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts a gateway minor-unit amount back to major units.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}

func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func firstPositive(values ...decimal.Decimal) decimal.Decimal {
	for _, v := range values {
		if v.IsPositive() {
			return v
		}
	}
	return decimal.Zero
}
