// Package billing computes monthly usage windows.
package billing

import "time"

// Window returns the half-open billing period [start, end) containing now.
// Periods roll over on the anchor's day of month, clamped to the last day of
// shorter months. Boundaries fall at midnight UTC.
func Window(anchor, now time.Time) (start, end time.Time) {
	day := 1
	if !anchor.IsZero() {
		day = anchor.UTC().Day()
	}
	now = now.UTC()

	start = monthDay(now.Year(), now.Month(), day)
	if start.After(now) {
		start = monthDay(now.Year(), now.Month()-1, day)
	}
	end = monthDay(start.Year(), start.Month()+1, day)
	return start, end
}

// monthDay returns day of the given month at midnight UTC, or the month's
// last day if it is shorter. month may be out of range; it is normalized.
func monthDay(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
