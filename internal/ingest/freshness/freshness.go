package freshness

import (
	"strconv"
	"time"
)

// DefaultWindow bounds how far a request timestamp may drift from server
// time in either direction.
const DefaultWindow = 5 * time.Minute

// Guard checks request-timestamp freshness. Freshness bounds the time an
// attacker has to replay a captured request; the nonce ledger bounds
// repetition within that window. Both are required.
type Guard struct {
	window time.Duration
	now    func() time.Time
}

// New builds a Guard with the given tolerance window.
func New(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{window: window, now: time.Now}
}

// Fresh reports whether an epoch-milliseconds timestamp string is within the
// tolerance window of server time, boundary inclusive. Non-numeric or
// missing timestamps are never fresh.
func (g *Guard) Fresh(timestamp string) bool {
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	t := time.UnixMilli(ms)
	drift := g.now().Sub(t)
	if drift < 0 {
		drift = -drift
	}
	return drift <= g.window
}

// Window returns the configured tolerance.
func (g *Guard) Window() time.Duration {
	return g.window
}
