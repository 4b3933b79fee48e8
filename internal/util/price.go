// Package util provides common utility functions for price calculations.
package util

import (
	"time"

	"github.com/shopspring/decimal"
)

// CentTick is the quoting increment used for option premiums.
const CentTick = 0.01

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.01, 1.2345 becomes 1.23 and 1.235 becomes 1.24.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(x).Div(t).Round(0).Mul(t).Float64()
	return f
}

// Round2 rounds x to cents. Binary float noise such as 0.1+0.7 is resolved
// on the shortest decimal representation of x, not on its binary expansion.
func Round2(x float64) float64 {
	return RoundToTick(x, CentTick)
}

// Midpoint returns (bid+ask)/2 rounded to cents. The second result is false
// when either side of the quote is missing (zero or negative).
func Midpoint(bid, ask float64) (float64, bool) {
	if bid <= 0 || ask <= 0 {
		return 0, false
	}
	return Round2((bid + ask) / 2), true
}

// DateLayout is the calendar date format used by the provider and the position file.
const DateLayout = "2006-01-02"

// DaysUntil returns the signed number of calendar days from today to date.
// Only the calendar date of each argument is used, so wall-clock time and DST
// transitions do not change the count.
func DaysUntil(today, date time.Time) int {
	ty, tm, td := today.Date()
	dy, dm, dd := date.Date()
	from := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	to := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// ParseDate parses a YYYY-MM-DD string into a UTC calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
