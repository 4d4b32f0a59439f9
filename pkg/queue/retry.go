package queue

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retrying storage writes with backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the pause after the first failure.
	// Default: 50ms
	InitialBackoff time.Duration

	// MaxBackoff caps the pause between attempts.
	// Default: 2s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the pause after each attempt.
	// Default: 2.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of the pause to randomize (0.0 to 1.0).
	// Default: 0.1
	JitterFraction float64
}

// DefaultRetryConfig returns the retry policy used for terminal writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 1
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	if c.JitterFraction > 1 {
		c.JitterFraction = 1
	}
	return c
}

// retryWithBackoff runs operation until it succeeds, the attempts run out or
// ctx is done. It returns the last error.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	config = config.normalized()
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) || attempt >= config.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}

// IsRetryableError reports whether a storage error is worth another attempt.
// Context errors are final; everything else is assumed transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
