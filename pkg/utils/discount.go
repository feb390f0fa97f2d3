package utils

import (
	"github.com/shopspring/decimal"

	customError "github.com/aadvita/dues-engine/pkg/errors"
)

// Discount kinds
const (
	DiscountNone     = "none"
	DiscountAbsolute = "absolute"
	DiscountPercent  = "percent"
)

var hundred = decimal.NewFromInt(100)

// IsDiscountKind reports whether kind is a known discount kind.
// The empty string is accepted as none.
func IsDiscountKind(kind string) bool {
	switch kind {
	case "", DiscountNone, DiscountAbsolute, DiscountPercent:
		return true
	}
	return false
}

// ApplyDiscount computes the amount owed after the discount descriptor.
// Formula: none -> base; absolute -> base - value; percent -> base * (1 - value/100).
// The result is floored at zero and rounded half away from zero to 2 decimal places.
func ApplyDiscount(base decimal.Decimal, kind string, value decimal.Decimal) (decimal.Decimal, error) {
	if base.IsNegative() {
		return decimal.Zero, customError.WrapValidation("base amount must not be negative: %s", base)
	}
	if value.IsNegative() {
		return decimal.Zero, customError.WrapValidation("discount value must not be negative: %s", value)
	}

	var final decimal.Decimal
	switch kind {
	case "", DiscountNone:
		final = base
	case DiscountAbsolute:
		final = base.Sub(value)
	case DiscountPercent:
		final = base.Mul(decimal.NewFromInt(1).Sub(value.Div(hundred)))
	default:
		return decimal.Zero, customError.WrapValidation("unknown discount kind %q", kind)
	}

	if final.IsNegative() {
		final = decimal.Zero
	}
	return final.Round(2), nil
}
