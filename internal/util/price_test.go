package util

import (
	"math"
	"testing"
	"time"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{
			name:     "basic rounding down",
			x:        1.2345,
			tick:     0.01,
			expected: 1.23,
		},
		{
			name:     "tie rounds away from zero",
			x:        1.235,
			tick:     0.01,
			expected: 1.24,
		},
		{
			name:     "negative tie rounds away from zero",
			x:        -1.235,
			tick:     0.01,
			expected: -1.24,
		},
		{
			name:     "larger tick size",
			x:        1.27,
			tick:     0.05,
			expected: 1.25,
		},
		{
			name:     "exact multiple",
			x:        1.25,
			tick:     0.05,
			expected: 1.25,
		},
		{
			name:     "non-positive tick is identity",
			x:        1.2345,
			tick:     0,
			expected: 1.2345,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		want float64
	}{
		{"credit difference", 1.00 - 0.20, 0.80},
		{"binary noise below tie", 0.1 + 0.7, 0.80},
		{"tie", 0.805, 0.81},
		{"negative tie", -0.805, -0.81},
		{"pnl percent", (2.00 - 1.30) / 2.00 * 100, 35.0},
		{"negative pnl percent", (2.00 - 2.60) / 2.00 * 100, -30.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Round2(tt.x)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Round2(%v) = %v, want %v", tt.x, got, tt.want)
			}
			if tick := RoundToTick(tt.x, CentTick); got != tick {
				t.Errorf("Round2(%v) = %v, RoundToTick(%v, CentTick) = %v", tt.x, got, tt.x, tick)
			}
		})
	}
}

func TestMidpoint(t *testing.T) {
	tests := []struct {
		name   string
		bid    float64
		ask    float64
		want   float64
		wantOK bool
	}{
		{"normal quote", 1.10, 1.20, 1.15, true},
		{"rounds to cents", 1.01, 1.02, 1.02, true},
		{"zero bid", 0, 1.20, 0, false},
		{"zero ask", 1.10, 0, 0, false},
		{"both missing", 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Midpoint(tt.bid, tt.ask)
			if ok != tt.wantOK {
				t.Fatalf("Midpoint(%v, %v) ok = %v, want %v", tt.bid, tt.ask, ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Midpoint(%v, %v) = %v, want %v", tt.bid, tt.ask, got, tt.want)
			}
		})
	}
}

func TestDaysUntil(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		ny = time.FixedZone("ET", -5*60*60)
	}
	tests := []struct {
		name  string
		today time.Time
		date  time.Time
		want  int
	}{
		{
			name:  "same day",
			today: time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC),
			date:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			want:  0,
		},
		{
			name:  "fifteen days",
			today: time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC),
			date:  time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
			want:  15,
		},
		{
			name:  "past date is negative",
			today: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			date:  time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			want:  -5,
		},
		{
			name:  "across DST change in local zone",
			today: time.Date(2024, 3, 9, 20, 0, 0, 0, ny),
			date:  time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
			want:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysUntil(tt.today, tt.date); got != tt.want {
				t.Errorf("DaysUntil() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-20")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if d.Year() != 2024 || d.Month() != time.January || d.Day() != 20 {
		t.Errorf("ParseDate returned %v", d)
	}
	if _, err := ParseDate("01/20/2024"); err == nil {
		t.Error("expected error for non ISO date")
	}
}
