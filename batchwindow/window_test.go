package batchwindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2021, 1, 20, hour, minute, 0, 0, time.UTC)
}

func TestIsValidStart(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		valid bool
	}{
		{"odd hour at window start", at(1, 46), true},
		{"odd hour at window end minute", at(1, 47), true},
		{"odd hour just before window", at(1, 45), false},
		{"odd hour just after window", at(1, 48), false},
		{"even hour inside window minutes", at(2, 46), false},
		{"even hour at midnight", at(0, 47), false},
		{"late odd hour", at(23, 46), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidStart(tt.now))
		})
	}
}

func TestIsValidStartNeverTrueAtEvenHours(t *testing.T) {
	for hour := 0; hour < 24; hour += 2 {
		for minute := 0; minute < 60; minute++ {
			assert.False(t, IsValidStart(at(hour, minute)),
				"even hour %02d:%02d must not be a valid start", hour, minute)
		}
	}
}

func TestNextWindow(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"just before boundary", at(1, 59), at(2, 0)},
		{"mid period", time.Date(2021, 1, 20, 23, 30, 0, 0, time.UTC), time.Date(2021, 1, 21, 0, 0, 0, 0, time.UTC)},
		{"exactly on boundary", at(2, 0), at(4, 0)},
		{"start of day", at(0, 30), at(2, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextWindow(tt.now))
		})
	}
}

func TestZipExpiration(t *testing.T) {
	assert.Equal(t, at(4, 0), ZipExpiration(at(1, 47)))
	assert.Equal(t, time.Date(2021, 1, 21, 2, 0, 0, 0, time.UTC),
		ZipExpiration(time.Date(2021, 1, 20, 23, 46, 0, 0, time.UTC)))
}

func TestEligibilityWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"before window", at(1, 30), at(1, 46), at(1, 48)},
		{"inside window", at(1, 46), at(1, 46), at(1, 48)},
		{"after window", at(1, 49), at(3, 46), at(3, 48)},
		{"even hour", at(2, 10), at(3, 46), at(3, 48)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := EligibilityWindow(tt.now)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.True(t, IsValidStart(start))
		})
	}
}
