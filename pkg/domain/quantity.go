package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bounds on client supplied decimals. Arithmetic rescales operands to a
// common exponent, so both the scale and the magnitude are capped.
const (
	MaxDecimalPlaces = 6
	MaxDecimalDigits = 18
)

// CheckDecimal rejects d when it has more than MaxDecimalPlaces fractional
// digits or more than MaxDecimalDigits significant digits.
func CheckDecimal(field string, d decimal.Decimal) error {
	exp := d.Exponent()
	if exp < -MaxDecimalPlaces {
		return Invalid(field, fmt.Sprintf("no máximo %d casas decimais", MaxDecimalPlaces))
	}
	digits := d.NumDigits()
	if exp > 0 {
		if exp > MaxDecimalDigits {
			return Invalid(field, "valor acima do máximo permitido")
		}
		digits += int(exp)
	}
	if digits > MaxDecimalDigits {
		return Invalid(field, "valor acima do máximo permitido")
	}
	return nil
}
