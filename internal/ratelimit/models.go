package ratelimit

import "time"

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RetryAfter returns the machine-readable backoff hint for a denied check.
// Always positive for denied results so callers can emit it verbatim.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		d = time.Second
	}
	return d
}
