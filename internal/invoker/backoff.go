package invoker

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before a retry attempt. Strategies are
// stateless and safe for concurrent use.
type BackoffStrategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ExponentialWithJitter doubles the base delay each attempt and applies full
// jitter: Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// Full jitter prevents a thundering herd when many executions retry against
// the same provider at once.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base)
}

// DefaultBackoff is the strategy used when none is configured: 250ms initial,
// capped at 5s. Slow provider stages rarely see more than one retry, so the
// cap matters more than the curve.
func DefaultBackoff() BackoffStrategy {
	return ExponentialWithJitter{Initial: 250 * time.Millisecond, Max: 5 * time.Second}
}
