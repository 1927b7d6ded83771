package domain

import "github.com/shopspring/decimal"

// UnknownPrice is how a missing price is restated to a model.
const UnknownPrice = "unknown"

// USD formats a dollar amount rounded to cents, e.g. 1234.5 → "$1234.50".
// Non-finite values format as $0.00.
func USD(v float64) string {
	return "$" + decimal.NewFromFloat(finite(v)).StringFixed(2)
}

// USDOrUnknown formats the appraisal's price, or UnknownPrice when it has none.
func (a Appraisal) USDOrUnknown() string {
	if a.Price == nil {
		return UnknownPrice
	}
	return USD(*a.Price)
}

// RoundCents rounds a dollar amount to two decimal places, half away from zero.
func RoundCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(finite(v)).Round(2).Float64()
	return f
}
