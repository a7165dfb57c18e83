package imap

import "time"

// Backoff computes the delay before a retry attempt: Initial doubled per
// attempt, capped at Max. No jitter; delays are deterministic so behavior
// under failure is reproducible.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before retrying after the given failed attempt
// (1-based). Attempts below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
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
