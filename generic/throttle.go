/*
throttle.go - Cooperative process-wide quota throttle

PURPOSE:
  A single caller hitting a rate limit is evidence that GLOBAL request
  volume against the shared quota is too high. Slowing down only that one
  caller under-reacts, so the throttle is deliberately shared state: every
  caller consults WaitForClearance before issuing a request, and one
  caller's error slows down everyone.

BEHAVIOR:
  delay = min(BaseDelay * 2^(consecutiveErrors-1), MaxDelay)
  The consecutive-error counter auto-resets the moment a clearance check
  observes that QuietPeriod has elapsed since the last reported error. No
  explicit reset call exists on the happy path.

LIFECYCLE:
  Injectable and explicitly constructed - one per process in production,
  one per test so runs never share counters.

SEE ALSO:
  - retry.go: Per-call backoff (the throttle is the cross-caller layer)
  - recon/apply.go: Consults the throttle before every batch write
*/
package generic

import (
	"context"
	"log"
	"sync"
	"time"
)

// =============================================================================
// THROTTLE CONFIG
// =============================================================================

type ThrottleConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	QuietPeriod time.Duration
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		QuietPeriod: 2 * time.Minute,
	}
}

// =============================================================================
// QUOTA THROTTLE
// =============================================================================

type QuotaThrottle struct {
	cfg ThrottleConfig

	mu          sync.Mutex
	consecutive int
	lastError   time.Time
}

func NewQuotaThrottle(cfg ThrottleConfig) *QuotaThrottle {
	return &QuotaThrottle{cfg: cfg}
}

// WaitForClearance blocks until the caller may issue a request. Returns
// immediately when no errors have been reported recently.
func (t *QuotaThrottle) WaitForClearance(ctx context.Context) error {
	t.mu.Lock()
	if t.consecutive > 0 && time.Since(t.lastError) >= t.cfg.QuietPeriod {
		t.consecutive = 0
	}
	delay := t.delayLocked()
	t.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	log.Printf("[Throttle] quota pressure: delaying %v before next request", delay)
	return sleep(ctx, delay)
}

// ReportQuotaError records one rate-limit failure.
func (t *QuotaThrottle) ReportQuotaError() {
	t.mu.Lock()
	t.consecutive++
	t.lastError = time.Now()
	t.mu.Unlock()
}

// ConsecutiveErrors exposes the counter for inspection and tests.
func (t *QuotaThrottle) ConsecutiveErrors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consecutive > 0 && time.Since(t.lastError) >= t.cfg.QuietPeriod {
		t.consecutive = 0
	}
	return t.consecutive
}

func (t *QuotaThrottle) delayLocked() time.Duration {
	if t.consecutive == 0 {
		return 0
	}
	delay := t.cfg.BaseDelay
	for i := 1; i < t.consecutive; i++ {
		delay *= 2
		if delay >= t.cfg.MaxDelay {
			return t.cfg.MaxDelay
		}
	}
	if delay > t.cfg.MaxDelay {
		delay = t.cfg.MaxDelay
	}
	return delay
}
