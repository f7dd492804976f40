/*
errors.go - Centralized error types for the generic substrate

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages should wrap these errors with additional context.

ERROR CATEGORIES:
  1. Input-shape errors - required columns/fields absent (hard errors)
  2. Concurrency errors - lock timeouts, version conflicts
  3. Quota errors - rate limiting by the backing store
  4. Lookup errors - referenced records missing from in-memory pools

USAGE:
  Domain packages can wrap generic errors:

    if errors.Is(err, generic.ErrVersionConflict) {
        // re-read, re-decide, retry the whole operation
    }

SEE ALSO:
  - lock.go, version.go, retry.go: Produce these errors
  - recon/loader.go: Wraps ErrMissingColumn with region/row context
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingColumn is returned when a required column is absent from a
	// raw row. Never defaulted: silently defaulting a required accounting
	// field risks misclassifying real money.
	ErrMissingColumn = errors.New("required column missing")

	// ErrUnparsableDate is returned when a mandatory date cell cannot be
	// parsed in any accepted layout.
	ErrUnparsableDate = errors.New("unparsable date")

	// ErrLockTimeout is returned when lock acquisition exceeds the caller's
	// wait timeout. The caller decides whether to retry the operation.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrVersionConflict is returned when an optimistic version check fails.
	// The correct remediation is to re-read and re-decide, not to merge.
	ErrVersionConflict = errors.New("version conflict detected")

	// ErrRateLimited marks a failure as quota-shaped. Store adapters should
	// wrap quota responses with this sentinel.
	ErrRateLimited = errors.New("rate limited")

	// ErrRetryExhausted wraps the last error after the retry budget is spent.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrDocumentNotFound is returned when a referenced document id is not
	// present in an in-memory pool. Logged and tolerated, never fatal.
	ErrDocumentNotFound = errors.New("document not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MissingColumnError reports which column of which region/row was absent.
type MissingColumnError struct {
	Region string
	Row    int
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("region %s row %d: required column %q missing", e.Region, e.Row, e.Column)
}

func (e *MissingColumnError) Unwrap() error { return ErrMissingColumn }

// VersionConflictError reports an optimistic concurrency failure.
type VersionConflictError struct {
	ResourceID string
	Expected   string
	Actual     string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %s, found %s",
		e.ResourceID, short(e.Expected), short(e.Actual))
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// LockTimeoutError reports how long a caller waited before giving up.
type LockTimeoutError struct {
	ResourceID string
	Waited     time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock on %s not acquired after %v", e.ResourceID, e.Waited)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRateLimited classifies an error as quota-shaped. The backing store does
// not always wrap its errors, so the message text is inspected too: quota
// wording, explicit rate-limit wording, "too many requests", or the 429
// status code.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"quota", "rate limit", "ratelimit", "too many requests", "429"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsConflict returns true for optimistic-concurrency failures.
func IsConflict(err error) bool { return errors.Is(err, ErrVersionConflict) }

// IsNotFound returns true for pool lookup misses.
func IsNotFound(err error) bool { return errors.Is(err, ErrDocumentNotFound) }

// IsInputShape returns true for malformed-input errors the caller must fix.
func IsInputShape(err error) bool {
	return errors.Is(err, ErrMissingColumn) || errors.Is(err, ErrUnparsableDate)
}
