package oauth

import (
	"context"
	"time"
)

const (
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 1000 * time.Millisecond

	// DefaultMaxRetries is the total number of acquisition attempts,
	// including the first one.
	DefaultMaxRetries = 3
)

// BackoffDelay returns the delay to wait after the given failed attempt
// (1-based): baseDelay * 2^(attempt-1). It is a pure function so retry
// timing can be tested without fake timers.
func BackoffDelay(baseDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return baseDelay << (attempt - 1)
}

// SleepFunc suspends for the given duration, returning early with the
// context error if the context is cancelled first. Injected into the Manager
// so retry sequences are testable without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepWithContext is the production SleepFunc.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
