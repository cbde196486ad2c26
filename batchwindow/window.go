// Package batchwindow decides whether an instant is a valid two-hourly
// processing instant and computes the window boundaries a batch run declares.
//
// Distribution runs are scheduled shortly before each even-hour boundary so
// the archive for the closing period is available the moment the period ends.
// The eligibility window is the two minutes [hh:46, hh:48) of every odd hour,
// 14 minutes before the boundary. Invocations outside that window must not
// produce a batch: they would declare a wrong period.
package batchwindow

import "time"

// DefaultOffset is the default shift applied to declared export timestamps,
// compensating for the gap between the wall-clock window and the true data
// boundary.
const DefaultOffset = -15 * time.Minute

const (
	eligibilityLead   = 14 * time.Minute
	eligibilityLength = 2 * time.Minute
)

// IsValidStart reports whether now lies inside a processing window: an odd
// hour with minute-of-hour in [46, 48). All arithmetic is in UTC.
func IsValidStart(now time.Time) bool {
	now = now.UTC()
	return now.Hour()%2 == 1 && now.Minute() >= 46 && now.Minute() < 48
}

// NextWindow returns the next even-hour UTC boundary strictly after now,
// e.g. 01:59 -> 02:00 and 23:30 -> 00:00 the next day.
func NextWindow(now time.Time) time.Time {
	return now.UTC().Truncate(2 * time.Hour).Add(2 * time.Hour)
}

// ZipExpiration returns the exclusive upper bound of the period the next
// batch run will cover: NextWindow plus two hours.
func ZipExpiration(now time.Time) time.Time {
	return NextWindow(now).Add(2 * time.Hour)
}

// EligibilityWindow returns the next [hh:46, hh:48) interval in which
// IsValidStart holds. The start is inclusive, the end exclusive. If now is
// inside an eligibility window, that window is returned.
func EligibilityWindow(now time.Time) (start, end time.Time) {
	boundary := NextWindow(now)
	start = boundary.Add(-eligibilityLead)
	end = start.Add(eligibilityLength)
	if !now.UTC().Before(end) {
		start = start.Add(2 * time.Hour)
		end = end.Add(2 * time.Hour)
	}
	return start, end
}
