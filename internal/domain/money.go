package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor is the number of cents in one unit of the base currency.
const MinorUnitsPerMajor = 100

var hundred = decimal.NewFromInt(100)

// Money is an amount in the platform's base currency.
// Amount is stored as BIGINT cents to avoid floating point errors.
type Money struct {
	Cents int64
}

// NewMoney creates a Money value from cents.
func NewMoney(cents int64) Money {
	return Money{Cents: cents}
}

// ToDecimal converts cents to a shopspring/decimal.Decimal in major units.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// FromDecimal converts a major-unit decimal to cents, rounding half away from zero.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(MinorUnitsPerMajor)).Round(0).IntPart()
}

// Percent returns pct percent of m rounded to the nearest cent.
func (m Money) Percent(pct decimal.Decimal) Money {
	share := m.ToDecimal().Mul(pct).Div(hundred)
	return Money{Cents: FromDecimal(share)}
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if o.Cents < m.Cents {
		return o
	}
	return m
}

// Sub returns m minus o.
func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

// String returns the amount with two decimal places.
func (m Money) String() string {
	return m.ToDecimal().StringFixed(2)
}

// ParseAmount parses a decimal string such as "150.00" into cents.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}
