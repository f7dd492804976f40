/*
retry.go - Retry with exponential backoff, quota-aware variant

PURPOSE:
  Store calls fail transiently (network blips) and systematically (API
  quota). Both get retried, but on very different schedules: a quota error
  retried on the standard schedule just burns more quota. WithQuotaRetry
  classifies each failure and picks the schedule per attempt.

BACKOFF:
  delay(n) = InitialDelay * Multiplier^n, capped at MaxDelay, with
  +-Jitter randomization so concurrent callers don't retry in lockstep.

ATTEMPT BUDGET:
  WithQuotaRetry allows max(std.MaxRetries, quota.MaxRetries) retries so a
  run that alternates error types is not under-retried.

SEE ALSO:
  - throttle.go: The cooperative process-wide slowdown
  - errors.go: IsRateLimited classification
*/
package generic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// =============================================================================
// RETRY CONFIG
// =============================================================================

type RetryConfig struct {
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0.25 = +-25%
}

// DefaultRetryConfig is the standard transient-error schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// QuotaRetryConfig is the much longer schedule for rate-limit failures.
func QuotaRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// Delay returns the backoff delay for the n-th retry (0-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*c.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// =============================================================================
// RETRY WRAPPERS
// =============================================================================

// WithRetry runs fn with exponential backoff. On exhaustion it returns the
// last error wrapped with ErrRetryExhausted; it never panics past the
// boundary. Context cancellation is honored at every sleep point.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries {
			break
		}
		if err := sleep(ctx, cfg.Delay(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxRetries+1, lastErr)
}

// WithQuotaRetry runs fn, classifying each failure as rate-limit-shaped or
// not. Rate-limit failures back off on the quota schedule, everything else
// on the standard schedule. Each schedule's delay grows with the number of
// failures of its own kind.
func WithQuotaRetry(ctx context.Context, std, quota RetryConfig, fn func() error) error {
	maxRetries := std.MaxRetries
	if quota.MaxRetries > maxRetries {
		maxRetries = quota.MaxRetries
	}

	var lastErr error
	stdFails, quotaFails := 0, 0
	for attempt := 0; ; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt >= maxRetries {
			break
		}

		var delay time.Duration
		if IsRateLimited(lastErr) {
			delay = quota.Delay(quotaFails)
			quotaFails++
		} else {
			delay = std.Delay(stdFails)
			stdFails++
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxRetries+1, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
