package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (kobo, cents).
type Money int64

const moneyScale = 2

// ParseMoney parses a decimal string such as "1500" or "1500.50".
// More than two fractional digits is an error.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, ErrInvalidArgument)
	}
	return FromDecimal(d)
}

// FromDecimal converts a major-unit decimal into Money.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Round(moneyScale).Equal(d) {
		return 0, fmt.Errorf("amount %s has more than %d decimals: %w", d, moneyScale, ErrInvalidArgument)
	}
	minor := d.Shift(moneyScale)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s: %w", d, ErrInvalidArgument)
	}
	return Money(minor.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -moneyScale)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(moneyScale)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("amount: %w", ErrInvalidArgument)
		}
		s = n.String()
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
