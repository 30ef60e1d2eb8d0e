package models

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places every externally visible amount carries.
const MoneyPlaces = 2

// RoundMoney applies the single rounding rule used for all monetary stages:
// half away from zero at two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ToMinorUnits converts a major-unit amount into gateway minor units (paise, cents).
func ToMinorUnits(d decimal.Decimal) int64 {
	return RoundMoney(d).Shift(MoneyPlaces).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -MoneyPlaces)
}

// FormatMoney renders an amount with exactly two decimals, e.g. "1800.00".
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}
