package client

import "time"

// Backoff computes the wait between reconnection attempts: exponential
// from Initial, capped at Max. Disconnects are always treated as
// recoverable, so the coordinator retries until the context is
// cancelled unless a maximum-attempts policy is configured.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = 500 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	return b
}

// Delay returns the wait before attempt n (n starts at 0: the first
// retry waits Initial).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
