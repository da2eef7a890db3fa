// Package money provides fixed-point monetary arithmetic in minor units
// and the day-granularity date helpers used by the billing services.
package money

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units (cents).
type Amount int64

var (
	ErrNegativeAmount = errors.New("negative_amount")
	ErrInvalidAmount  = errors.New("invalid_amount")
)

// Zero is the zero amount.
const Zero Amount = 0

func (a Amount) IsZero() bool     { return a == 0 }
func (a Amount) IsNegative() bool { return a < 0 }
func (a Amount) IsPositive() bool { return a > 0 }

func (a Amount) Add(b Amount) Amount { return a + b }

// Sub subtracts b from a, flooring at zero. Paid amounts never go negative.
func (a Amount) Sub(b Amount) Amount {
	if b >= a {
		return 0
	}
	return a - b
}

// Cents returns the raw minor-unit value.
func (a Amount) Cents() int64 { return int64(a) }

// Decimal returns the amount in major units as an exact decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String formats the amount in major units, e.g. "1234.50".
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// FromDecimal converts a major-unit decimal into an Amount, rounding
// half-up to the cent.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Shift(2).Round(0).IntPart())
}

// Percent returns pct percent of a, rounded half-up to the cent.
func (a Amount) Percent(pct int64) Amount {
	return FromDecimal(a.Decimal().Mul(decimal.New(pct, -2)))
}

// Validate rejects negative values for fields that must be non-negative.
func Validate(a Amount) error {
	if a < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAmount, int64(a))
	}
	return nil
}

// DaysBetween returns the number of whole calendar days from a to b in UTC.
// Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	start := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	end := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

// EndOfDay returns the last instant of t's calendar day in UTC. Due dates
// are inclusive of the whole day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}

// Interest computes simple statutory interest on principal for daysOverdue
// days at an annual rate given in basis points, using a 365-day year.
// Results round half-up to the cent. Non-positive inputs yield zero.
func Interest(principal Amount, annualRateBps int64, daysOverdue int) Amount {
	if principal <= 0 || annualRateBps <= 0 || daysOverdue <= 0 {
		return 0
	}
	rate := decimal.New(annualRateBps, -4)
	days := decimal.NewFromInt(int64(daysOverdue))
	year := decimal.NewFromInt(365)
	return FromDecimal(principal.Decimal().Mul(rate).Mul(days).Div(year))
}
