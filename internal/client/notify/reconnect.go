package notify

import (
	"math"
	"time"
)

// ReconnectPolicy decides whether and when to retry after the push
// connection fails. attempt counts consecutive failures starting at 0 and
// resets once a connection is established.
type ReconnectPolicy interface {
	Next(attempt int) (delay time.Duration, ok bool)
}

// Backoff retries with exponentially growing delays.
type Backoff struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the delay.
	Max time.Duration
	// Multiplier grows the delay per attempt; values below 1 are treated as 1.
	Multiplier float64
	// MaxAttempts stops retrying after that many consecutive failures.
	// Zero retries forever.
	MaxAttempts int
}

// DefaultBackoff retries forever, starting at one second and capped at five.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        5 * time.Second,
		Multiplier: 2,
	}
}

// Next implements ReconnectPolicy.
func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max, true
	}
	return time.Duration(d), true
}

// NoReconnect never retries.
type NoReconnect struct{}

// Next implements ReconnectPolicy.
func (NoReconnect) Next(int) (time.Duration, bool) { return 0, false }
