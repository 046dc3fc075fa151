// Package timesheet holds the billable-duration rules shared by the webhook
// consumer and the batch jobs.
package timesheet

import (
	"math"
	"time"
)

// CeilQuarterHours converts a tracked duration to billable hours, rounded up
// to the next quarter hour. Every call site that moves time from Clockify
// into Odoo must go through this function so both systems agree on rounding.
func CeilQuarterHours(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return math.Ceil(d.Hours()*4) / 4
}

// Day truncates an instant to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
