// Package types provides common types used across Coffer.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried by a Credits value.
const Scale = 2

// Credits is an exact credit amount stored in hundredths of a credit.
// All balance arithmetic is integer-only; fractional multipliers go
// through decimal and are rounded back to hundredths.
//
// Examples:
//   - Credits(2500) = 25.00 credits
//   - Credits(-4)   = -0.04 credits
type Credits int64

// Zero is the zero credit amount.
const Zero Credits = 0

// ErrOverflow reports an amount whose hundredths do not fit in an int64.
var ErrOverflow = errors.New("credits: amount out of range")

var (
	minHundredths = decimal.NewFromInt(math.MinInt64)
	maxHundredths = decimal.NewFromInt(math.MaxInt64)
)

// FromMajor creates a Credits value from whole credits.
func FromMajor(whole int64) Credits { return Credits(whole * 100) }

// FromDecimal converts a decimal amount of credits, rounding half-to-even
// to hundredths. Amounts outside the Credits range fail with ErrOverflow.
func FromDecimal(d decimal.Decimal) (Credits, error) {
	h := d.RoundBank(Scale).Shift(Scale)
	if h.LessThan(minHundredths) || h.GreaterThan(maxHundredths) {
		return Zero, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return Credits(h.IntPart()), nil
}

// ParseCredits parses a major-unit string such as "12.50" or "-3".
func ParseCredits(s string) (Credits, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("credits: parse %q: empty string", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("credits: parse %q: %w", s, err)
	}
	if !d.Equal(d.Round(Scale)) {
		return Zero, fmt.Errorf("credits: parse %q: more than %d decimal places", s, Scale)
	}
	c, err := FromDecimal(d)
	if err != nil {
		return Zero, fmt.Errorf("credits: parse %q: %w", s, err)
	}
	return c, nil
}

// MustParseCredits is like ParseCredits but panics on error.
func MustParseCredits(s string) Credits {
	c, err := ParseCredits(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Arithmetic operations

// Add returns c + other.
func (c Credits) Add(other Credits) Credits { return c + other }

// CheckedAdd returns c + other, or ErrOverflow when the sum does not fit.
func (c Credits) CheckedAdd(other Credits) (Credits, error) {
	sum := c + other
	if (other > 0 && sum < c) || (other < 0 && sum > c) {
		return c, fmt.Errorf("%w: %s + %s", ErrOverflow, c.FormatMajor(), other.FormatMajor())
	}
	return sum, nil
}

// Subtract returns c - other.
func (c Credits) Subtract(other Credits) Credits { return c - other }

// Multiply multiplies by an integer quantity.
func (c Credits) Multiply(qty int64) Credits { return c * Credits(qty) }

// MultiplyDecimal multiplies by a decimal factor and rounds half-to-even.
func (c Credits) MultiplyDecimal(factor decimal.Decimal) (Credits, error) {
	return FromDecimal(c.Decimal().Mul(factor))
}

// Negate returns -c.
func (c Credits) Negate() Credits { return -c }

// Abs returns the absolute value.
func (c Credits) Abs() Credits {
	if c < 0 {
		return -c
	}
	return c
}

// Comparison methods

// IsZero returns true if the amount is zero.
func (c Credits) IsZero() bool { return c == 0 }

// IsPositive returns true if the amount is greater than zero.
func (c Credits) IsPositive() bool { return c > 0 }

// IsNegative returns true if the amount is less than zero.
func (c Credits) IsNegative() bool { return c < 0 }

// LessThan reports whether c < other.
func (c Credits) LessThan(other Credits) bool { return c < other }

// GreaterThan reports whether c > other.
func (c Credits) GreaterThan(other Credits) bool { return c > other }

// Min returns the smaller of two amounts.
func (c Credits) Min(other Credits) Credits {
	if c < other {
		return c
	}
	return other
}

// Max returns the larger of two amounts.
func (c Credits) Max(other Credits) Credits {
	if c > other {
		return c
	}
	return other
}

// Hundredths returns the raw integer amount.
func (c Credits) Hundredths() int64 { return int64(c) }

// Decimal returns the amount in whole credits.
func (c Credits) Decimal() decimal.Decimal { return decimal.New(int64(c), -Scale) }

// Formatting methods

// FormatMajor returns the amount in whole credits with two decimals: "49.00".
func (c Credits) FormatMajor() string {
	return c.Decimal().StringFixed(Scale)
}

// String returns a human-readable amount such as "49.00 cr".
func (c Credits) String() string {
	return c.FormatMajor() + " cr"
}

// MarshalJSON encodes credits as a major-unit string.
func (c Credits) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.FormatMajor())
}

// UnmarshalJSON accepts a JSON string or number in major units.
func (c *Credits) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	parsed, err := ParseCredits(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Credits) MarshalText() ([]byte, error) { return []byte(c.FormatMajor()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Credits) UnmarshalText(data []byte) error {
	parsed, err := ParseCredits(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Sum adds up a list of amounts.
func Sum(values ...Credits) Credits {
	var total Credits
	for _, v := range values {
		total += v
	}
	return total
}
