// Package trading provides order quantity helpers shared by the
// gateways and the position ledger.
package trading

import "github.com/shopspring/decimal"

// RoundToStep floors qty to the venue's lot step. Decimal arithmetic
// keeps float noise from producing quantities the venue rejects.
// A step of 0 (or less) returns qty unchanged.
func RoundToStep(qty, step float64) float64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	steps := q.Div(s).Floor()
	out, _ := steps.Mul(s).Float64()
	if out < 0 {
		return 0
	}
	return out
}

// CloseAmount returns the quantity to submit when closing a position:
// the open quantity floored to step, never exceeding what is open.
func CloseAmount(openQty, step float64) float64 {
	amount := RoundToStep(openQty, step)
	if amount > openQty {
		amount = openQty
	}
	return amount
}

// FormatAmount renders a quantity as the shortest exact decimal string
// accepted by venue REST APIs.
func FormatAmount(qty float64) string {
	return decimal.NewFromFloat(qty).String()
}
