// Package workday answers "should a scheduled run fire right now" for a
// configured region. Only timer-driven runs consult it; manual triggers
// always go through.
package workday

import (
	"strings"
	"time"
)

// fixed-date public holidays per region, month/day.
var holidays = map[string][][2]int{
	"default": {
		{1, 1},   // New Year's Day
		{12, 25}, // Christmas Day
	},
	"israel": {
		{5, 14}, // Independence Day (fixed-date approximation)
	},
}

// IsWorkday reports whether t falls on a working day in the given region.
// Unknown regions use the default Monday-Friday week.
func IsWorkday(region string, t time.Time) bool {
	region = strings.ToLower(strings.TrimSpace(region))

	var working bool
	switch region {
	case "israel":
		// Sunday through Thursday.
		working = t.Weekday() != time.Friday && t.Weekday() != time.Saturday
	default:
		region = "default"
		working = t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
	}
	if !working {
		return false
	}

	for _, h := range holidays[region] {
		if int(t.Month()) == h[0] && t.Day() == h[1] {
			return false
		}
	}
	return true
}
