package queue

import (
	"time"

	"github.com/upb/autonomy-orchestrator/config"
)

// RetryPolicy controls how failed attempts are rescheduled
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// PolicyFromConfig converts the configured retry defaults
func PolicyFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		MaxAttempts: c.MaxAttempts,
	}
}

// CalculateBackoff returns the delay before the retry that follows the given
// attempt number: base * 2^(attempt-1), capped at max.
func CalculateBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		// overflow or past the cap
		if delay <= 0 || (max > 0 && delay >= max) {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
