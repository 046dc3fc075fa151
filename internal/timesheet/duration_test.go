package timesheet

import (
	"testing"
	"time"
)

func TestCeilQuarterHours(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want float64
	}{
		{0, 0},
		{-time.Minute, 0},
		{26 * time.Second, 0.25},
		{15 * time.Minute, 0.25},
		{15*time.Minute + time.Second, 0.5},
		{time.Hour, 1.0},
		{3601 * time.Second, 1.25},
		{7*time.Hour + 59*time.Minute, 8.0},
	}
	for _, tc := range cases {
		if got := CeilQuarterHours(tc.d); got != tc.want {
			t.Errorf("CeilQuarterHours(%v) = %v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestDay(t *testing.T) {
	instant := time.Date(2022, 4, 21, 23, 15, 0, 0, time.FixedZone("CEST", 2*3600))
	want := time.Date(2022, 4, 21, 0, 0, 0, 0, time.UTC)
	if got := Day(instant); !got.Equal(want) {
		t.Fatalf("Day(%v) = %v, want %v", instant, got, want)
	}
}
