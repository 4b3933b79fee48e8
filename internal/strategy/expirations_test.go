package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterExpirations(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		dates []string
		want  []string
	}{
		{
			name:  "keeps dates inside window",
			dates: []string{"2024-01-10", "2024-01-20"},
			want:  []string{"2024-01-20"},
		},
		{
			name:  "boundaries inclusive",
			dates: []string{"2024-01-15", "2024-01-16", "2024-01-31", "2024-02-01"},
			want:  []string{"2024-01-16", "2024-01-31"},
		},
		{
			name:  "unparsable skipped",
			dates: []string{"Jan 20", "2024-01-20", ""},
			want:  []string{"2024-01-20"},
		},
		{
			name:  "empty in empty out",
			dates: nil,
			want:  []string{},
		},
		{
			name:  "past dates excluded",
			dates: []string{"2023-12-20"},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterExpirations(tt.dates, base, 15, 30))
		})
	}
}

func TestFilterExpirations_IgnoresWallClockAndZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tz database unavailable")
	}
	lateEvening := time.Date(2024, 3, 1, 23, 30, 0, 0, ny)
	// 2024-03-16 is 15 calendar days after 2024-03-01 across the DST change
	assert.Equal(t, []string{"2024-03-16"}, FilterExpirations([]string{"2024-03-15", "2024-03-16"}, lateEvening, 15, 30))
}
