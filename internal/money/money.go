package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Money is an amount in integer minor units (cents). All arithmetic is
// integer arithmetic; decimal conversion happens only at formatting
// boundaries.
type Money struct {
	cents int64
}

var ErrOutOfRange = errors.New("money value out of range")

func FromCents(cents int64) Money {
	return Money{cents: cents}
}

// FromDollars parses a decimal dollar string ("123.45") into cents.
// More than two fraction digits is rejected rather than rounded.
func FromDollars(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse dollars %q: %w", s, err)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return Money{}, fmt.Errorf("parse dollars %q: fractional cents", s)
	}
	return Money{cents: cents.IntPart()}, nil
}

func (m Money) Cents() int64 {
	return m.cents
}

func (m Money) Add(other Money) (Money, error) {
	sum, err := safeAdd(m.cents, other.cents)
	if err != nil {
		return Money{}, err
	}
	return Money{cents: sum}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	diff, err := safeSub(m.cents, other.cents)
	if err != nil {
		return Money{}, err
	}
	return Money{cents: diff}, nil
}

func (m Money) Neg() Money {
	return Money{cents: -m.cents}
}

// Cmp returns -1, 0, or 1.
func (m Money) Cmp(other Money) int {
	switch {
	case m.cents < other.cents:
		return -1
	case m.cents > other.cents:
		return 1
	default:
		return 0
	}
}

func (m Money) IsZero() bool {
	return m.cents == 0
}

func (m Money) IsNegative() bool {
	return m.cents < 0
}

// MulUnits multiplies by an integer quantity (time-based claim lines).
func (m Money) MulUnits(units int64) (Money, error) {
	product, err := safeMul(m.cents, units)
	if err != nil {
		return Money{}, err
	}
	return Money{cents: product}, nil
}

// ApplyMultiplier scales by a decimal factor and rounds half to even.
// The result is always a whole number of cents.
func (m Money) ApplyMultiplier(factor decimal.Decimal) Money {
	scaled := decimal.NewFromInt(m.cents).Mul(factor).RoundBank(0)
	return Money{cents: scaled.IntPart()}
}

// Dollars renders the amount as decimal dollars with exactly two
// fraction digits, "." separator, no thousands separators.
func (m Money) Dollars() string {
	return decimal.New(m.cents, -2).StringFixed(2)
}

func (m Money) String() string {
	return m.Dollars()
}

// MarshalJSON encodes the amount as integer cents.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(m.cents, 10)), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	cents, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse money: %w", err)
	}
	m.cents = cents
	return nil
}

func safeAdd(a int64, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOutOfRange
	}
	return a + b, nil
}

func safeSub(a int64, b int64) (int64, error) {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		return 0, ErrOutOfRange
	}
	return a - b, nil
}

func safeMul(a int64, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a == math.MinInt64 || b == math.MinInt64 {
		return 0, ErrOutOfRange
	}
	if abs(a) > math.MaxInt64/abs(b) {
		return 0, ErrOutOfRange
	}
	return a * b, nil
}

func abs(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
