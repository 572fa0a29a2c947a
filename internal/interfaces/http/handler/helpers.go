package handler

import "github.com/shopspring/decimal"

// toDecimal converts a JSON float amount to a decimal. Precision past the
// ledger's four decimal places is rounded away by the Amount factory.
func toDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
