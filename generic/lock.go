/*
lock.go - Named mutual-exclusion locks with auto-expiry

PURPOSE:
  Serializes access to logical resources (a sheet region, a store id) across
  concurrent reconciliation passes. The backing store has no transactions of
  its own, so mutation of a shared region is always funneled through one of
  these locks plus a version-checked write.

KEY CONCEPTS:
  Auto-expiry:   A holder that crashes without releasing must not deadlock
                 everyone else. Each lock records its own expiry duration;
                 once exceeded, the next acquirer may take the lock over.
  Token CAS:     "The lock looks expired" and "I claimed it" are logically
                 two steps. Every lock record carries a unique instance
                 token; after writing a fresh record the acquirer re-reads
                 it and checks the token still matches. A foreign token
                 means another caller won the race, and this caller must
                 fall back to waiting - not retry immediately.
  Release signal: Waiters block on the holder's release channel, with a
                 short poll fallback so an expired-but-unsignaled lock is
                 still noticed.

GUARANTEE:
  At most one caller runs the protected section per resource at a time.
  Waiters on a now-expired lock are unblocked either by the original
  holder's belated release or by the expiry-driven takeover, whichever
  happens first. No permanent deadlock.

USAGE:
  locks := generic.NewLockRegistry()
  if locks.Acquire("sheet-1/movements", 5*time.Second, 30*time.Second) {
      defer locks.Release("sheet-1/movements")
      // protected section
  }

SEE ALSO:
  - version.go: The optimistic guard used inside protected sections
  - recon/apply.go: The only production caller
*/
package generic

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// pollInterval bounds how long a waiter can miss an expiry-driven
// acquirability change when no release signal arrives.
const pollInterval = 25 * time.Millisecond

// =============================================================================
// LOCK STATE
// =============================================================================

type lockState struct {
	token      string
	acquiredAt time.Time
	expiry     time.Duration
	released   chan struct{}
}

func (ls *lockState) expired(now time.Time) bool {
	return now.Sub(ls.acquiredAt) > ls.expiry
}

// =============================================================================
// LOCK REGISTRY
// =============================================================================

// LockRegistry is an injectable registry of named locks. Construct one per
// process; tests build their own so runs never cross-contaminate.
type LockRegistry struct {
	mu    chan struct{} // binary semaphore: see note on registryLock
	locks map[string]*lockState
}

func NewLockRegistry() *LockRegistry {
	r := &LockRegistry{
		mu:    make(chan struct{}, 1),
		locks: make(map[string]*lockState),
	}
	r.mu <- struct{}{}
	return r
}

// registryLock/registryUnlock guard the registry map. A channel-based
// semaphore rather than sync.Mutex keeps every blocking point in this file
// selectable, which the waiters below rely on.
func (r *LockRegistry) registryLock()   { <-r.mu }
func (r *LockRegistry) registryUnlock() { r.mu <- struct{}{} }

// Acquire attempts to take the named lock. waitTimeout bounds how long this
// caller will wait; autoExpiry bounds how long the new holder may keep the
// lock before being presumed dead. Returns false on timeout.
func (r *LockRegistry) Acquire(resourceID string, waitTimeout, autoExpiry time.Duration) bool {
	deadline := time.Now().Add(waitTimeout)

	for {
		waitCh, acquired := r.tryAcquire(resourceID, autoExpiry)
		if acquired {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}

		// Wait for the holder's release signal, or poll. The poll fallback
		// covers holders that crashed without releasing: nothing will ever
		// signal, but expiry makes the lock acquirable.
		timer := time.NewTimer(remaining)
		select {
		case <-waitCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryAcquire performs one claim attempt. On failure it returns the current
// holder's release channel for the caller to wait on.
func (r *LockRegistry) tryAcquire(resourceID string, autoExpiry time.Duration) (<-chan struct{}, bool) {
	now := time.Now()

	r.registryLock()
	cur := r.locks[resourceID]
	if cur != nil && !cur.expired(now) {
		waitCh := cur.released
		r.registryUnlock()
		return waitCh, false
	}

	// Acquirable: either no lock is held or the held lock outlived its own
	// expiry. Write a brand-new record with a fresh instance token.
	st := &lockState{
		token:      uuid.NewString(),
		acquiredAt: now,
		expiry:     autoExpiry,
		released:   make(chan struct{}),
	}
	r.locks[resourceID] = st
	stale := cur
	r.registryUnlock()

	// Token round-trip: re-read and confirm the record still carries the
	// token just written. Two callers can observe the same expired state;
	// only the one whose write survived owns the lock.
	r.registryLock()
	won := r.locks[resourceID] != nil && r.locks[resourceID].token == st.token
	var waitCh <-chan struct{}
	if !won && r.locks[resourceID] != nil {
		waitCh = r.locks[resourceID].released
	}
	r.registryUnlock()

	if !won {
		// Lost the race. Fall back to waiting, never retry immediately.
		return waitCh, false
	}

	if stale != nil {
		// Expiry-driven takeover: free anyone still waiting on the dead
		// holder's signal so they re-check against the new record.
		log.Printf("[Lock] %s: expired lock (held %v) taken over", resourceID, now.Sub(stale.acquiredAt))
		close(stale.released)
	}
	return nil, true
}

// Release signals waiters, then removes the lock record entirely. Removing
// rather than flipping a flag keeps stale expired record bytes from being
// misread by a later acquirer.
func (r *LockRegistry) Release(resourceID string) {
	r.registryLock()
	st := r.locks[resourceID]
	if st != nil {
		close(st.released)
		delete(r.locks, resourceID)
	}
	r.registryUnlock()
}

// Held reports whether a live (non-expired) lock exists for the resource.
func (r *LockRegistry) Held(resourceID string) bool {
	r.registryLock()
	st := r.locks[resourceID]
	held := st != nil && !st.expired(time.Now())
	r.registryUnlock()
	return held
}

// WithLock runs fn under the named lock. Returns LockTimeoutError when the
// lock cannot be acquired within waitTimeout.
func (r *LockRegistry) WithLock(resourceID string, waitTimeout, autoExpiry time.Duration, fn func() error) error {
	if !r.Acquire(resourceID, waitTimeout, autoExpiry) {
		return &LockTimeoutError{ResourceID: resourceID, Waited: waitTimeout}
	}
	defer r.Release(resourceID)
	return fn()
}
