package worker

import "time"

// DefaultBackoff is the retry delay sequence used when none is configured.
var DefaultBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Backoff selects retry delays from a fixed ascending sequence.
type Backoff struct {
	steps []time.Duration
}

func NewBackoff(steps ...time.Duration) Backoff {
	if len(steps) == 0 {
		steps = DefaultBackoff
	}
	return Backoff{steps: append([]time.Duration(nil), steps...)}
}

// Delay returns the wait before the next attempt given the number of
// attempts already recorded, clamped to the last step.
func (b Backoff) Delay(attempts int) time.Duration {
	if len(b.steps) == 0 {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	return b.steps[min(attempts, len(b.steps)-1)]
}
