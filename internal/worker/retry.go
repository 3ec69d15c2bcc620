package worker

import (
	"math"
	"time"

	"catalogexport/internal/config"
)

// RetryPolicy defines the attempt limit and exponential backoff between
// attempts.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PolicyFromConfig builds the policy from queue settings.
func PolicyFromConfig(cfg config.QueueConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.MaxTries,
		InitialDelay:  cfg.InitialBackoff,
		MaxDelay:      cfg.MaxBackoff,
		BackoffFactor: cfg.BackoffFactor,
	}
}

// Exhausted reports whether no attempt is left after the given number of
// attempts.
func (r RetryPolicy) Exhausted(attempts int) bool {
	limit := r.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	return attempts >= limit
}

// NextDelay returns the delay after the given failed attempt (1-based),
// clamped to MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
