package embedding

import (
	"math/rand"
	"time"
)

// BackoffPolicy controls retry pacing for transient embedding failures.
// Delays double per attempt from BaseDelay up to MaxDelay, with up to
// Jitter fraction of random spread so concurrent workers do not retry in
// lockstep.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultBackoff matches the embedding endpoint's observed recovery times.
func DefaultBackoff(maxAttempts int) BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the wait before retry attempt n (0-based over completed
// attempts).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter
		delay += time.Duration(rand.Float64()*2*spread - spread)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
