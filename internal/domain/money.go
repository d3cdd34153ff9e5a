package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var microsPerUnit = decimal.NewFromInt(1_000_000)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(microsPerUnit)
}

// FromDecimal converts a decimal.Decimal to int64 micros, truncating sub-micro digits.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(microsPerUnit).IntPart()
}

// ApplyRate returns the amount left after deducting a percentage fee.
// A rate of 3.5 keeps 96.5% of the amount. The result is rounded down to the micro.
func (m Money) ApplyRate(ratePercent decimal.Decimal) Money {
	hundred := decimal.NewFromInt(100)
	kept := hundred.Sub(ratePercent)
	if kept.IsNegative() {
		kept = decimal.Zero
	}
	amount := decimal.NewFromInt(m.Amount).Mul(kept).Div(hundred).Floor()
	return Money{Amount: amount.IntPart(), Currency: m.Currency}
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
