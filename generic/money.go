/*
money.go - Currency-tagged monetary amounts

PURPOSE:
  Monetary values flow through every part of the engine: bank movement
  amounts, document totals, tolerances, netted withholdings. This file
  defines the single Amount type they all share.

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. Currency awareness: an Amount knows its currency; cross-currency
     arithmetic is a caller decision, not an implicit conversion
  3. Immutability: all operations return new values

USAGE:
  total := generic.NewAmountFromString("100000.00", generic.ARS)
  net := total.Sub(withheld)
  if net.Abs().LessThanOrEqual(tolerance) { ... }

SEE ALSO:
  - recon/matcher.go: Amount tolerance logic
  - recon/rates.go: Cross-currency conversion
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY
// =============================================================================

type Currency string

const (
	ARS Currency = "ARS"
	USD Currency = "USD"
)

// =============================================================================
// AMOUNT - Monetary value with currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewAmount(value float64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewAmountFromInt(value int64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(value), Currency: currency}
}

// NewAmountFromString parses a decimal string. Returns the zero Amount and
// false when the string is not a valid decimal.
func NewAmountFromString(s string, currency Currency) (Amount, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, false
	}
	return Amount{Value: d, Currency: currency}, true
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs(), Currency: a.Currency} }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) Equal(b Amount) bool          { return a.Currency == b.Currency && a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) LessThanOrEqual(b Amount) bool {
	return a.Value.LessThanOrEqual(b.Value)
}

// SameCurrency reports whether both amounts carry the same currency tag.
func (a Amount) SameCurrency(b Amount) bool { return a.Currency == b.Currency }

func (a Amount) String() string { return a.Value.StringFixed(2) + " " + string(a.Currency) }
