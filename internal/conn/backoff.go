package conn

import "time"

// Backoff is the bounded exponential retry policy for reconnects.
// Attempt numbering starts at 1.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts uint
}

// Delay returns the wait before the given attempt, doubling from Base
// and capped at Max.
func (b Backoff) Delay(attempt uint) time.Duration {
	if attempt <= 1 {
		return b.Base
	}
	d := b.Base
	for i := uint(1); i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// Exhausted reports whether the attempt count has passed the cap.
func (b Backoff) Exhausted(attempt uint) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}
