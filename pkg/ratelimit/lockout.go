package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// LockoutState is the per-key auth-failure tracking state (spec §3 Lockout
// State): a sliding window of failures plus an optional lock expiry.
type LockoutState struct {
	Failures  []time.Time
	LockUntil time.Time
}

// LockoutStatus reports whether a key is currently locked out (spec §4.2).
type LockoutStatus struct {
	IsLockedOut       bool
	FailedAttempts    int
	MaxAttempts       int
	LockoutEndsAt     time.Time
	RetryAfterSeconds int
}

// LockoutConfig configures the tracker.
type LockoutConfig struct {
	MaxAttempts   int
	Window        time.Duration
	LockoutPeriod time.Duration
}

// LockoutTracker records authentication failures per key and derives a
// lockout once MaxAttempts failures land inside Window, grounded on
// internal/auth.RateLimiter's Redis INCR+EXPIRE login-attempt pattern,
// generalized here to a sliding window so failures age out individually
// instead of the whole counter resetting at once.
type LockoutTracker struct {
	mu     sync.Mutex
	cfg    LockoutConfig
	states map[string]*LockoutState
}

// NewLockoutTracker creates a tracker with cfg.
func NewLockoutTracker(cfg LockoutConfig) *LockoutTracker {
	return &LockoutTracker{cfg: cfg, states: make(map[string]*LockoutState)}
}

// ActorLockoutKey derives the auth-failure key for a (tenant, actor) pair.
func ActorLockoutKey(tenantID, actorID string) string {
	return fmt.Sprintf("actor:%s:%s", tenantID, actorID)
}

// IPLockoutKey derives the auth-failure key for a (tenant, source IP) pair.
func IPLockoutKey(tenantID, ip string) string {
	return fmt.Sprintf("ip:%s:%s", tenantID, ip)
}

// TenantLockoutKey derives the auth-failure key for tenant-wide tracking.
func TenantLockoutKey(tenantID string) string {
	return fmt.Sprintf("tenant:%s", tenantID)
}

// prune drops failures older than Window as of now, leaving s.Failures as
// only the attempts still inside the sliding window.
func prune(s *LockoutState, window time.Duration, now time.Time) {
	cutoff := now.Add(-window)
	kept := s.Failures[:0]
	for _, t := range s.Failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.Failures = kept
}

// RecordFailure registers an authentication failure for key at time now
// and returns the resulting LockoutStatus. Once MaxAttempts failures fall
// inside Window, the key is locked for LockoutPeriod from now.
func (t *LockoutTracker) RecordFailure(key string, now time.Time) LockoutStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[key]
	if !ok {
		s = &LockoutState{}
		t.states[key] = s
	}

	prune(s, t.cfg.Window, now)
	s.Failures = append(s.Failures, now)

	if len(s.Failures) >= t.cfg.MaxAttempts {
		s.LockUntil = now.Add(t.cfg.LockoutPeriod)
	}

	return t.statusLocked(s, now)
}

// Status reports the current lockout state for key without recording a
// failure, pruning stale failures out of the window as a side effect.
func (t *LockoutTracker) Status(key string, now time.Time) LockoutStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[key]
	if !ok {
		return LockoutStatus{MaxAttempts: t.cfg.MaxAttempts}
	}
	prune(s, t.cfg.Window, now)
	return t.statusLocked(s, now)
}

// Reset clears all recorded failures and any active lock for key, used on
// a successful authentication (spec §4.2 "a successful authentication
// clears the tracked failure count").
func (t *LockoutTracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}

func (t *LockoutTracker) statusLocked(s *LockoutState, now time.Time) LockoutStatus {
	status := LockoutStatus{
		FailedAttempts: len(s.Failures),
		MaxAttempts:    t.cfg.MaxAttempts,
	}

	if !s.LockUntil.IsZero() && s.LockUntil.After(now) {
		status.IsLockedOut = true
		status.LockoutEndsAt = s.LockUntil
		status.RetryAfterSeconds = int(s.LockUntil.Sub(now).Seconds() + 0.999)
	}

	return status
}
