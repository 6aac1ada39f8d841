package offers

import "time"

// ValidUntil is min(now + validity, 23:59:59 UTC of the day before delivery).
// An offer may not outlive the job's delivery commitment.
func ValidUntil(now time.Time, validity time.Duration, delivery *time.Time) time.Time {
	horizon := now.UTC().Add(validity)
	if delivery == nil {
		return horizon
	}
	y, m, d := delivery.UTC().Date()
	dayBefore := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(-time.Second)
	if dayBefore.Before(horizon) {
		return dayBefore
	}
	return horizon
}
