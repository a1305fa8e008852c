// Package ratelimit implements the per-key token bucket and auth-failure
// lockout tracker (spec §4.2), with an in-memory default and an optional
// Redis-backed distributed store (spec §9 "the design admits an optional
// distributed store"), grounded on internal/auth.RateLimiter's Redis
// INCR+EXPIRE login-attempt counter, generalized to a continuous
// token-bucket.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// BucketState is the per-key token bucket (spec §3 Token Bucket State).
type BucketState struct {
	Capacity            float64
	RefillRatePerSecond float64
	Tokens              float64
	LastRefillAt        time.Time
}

// AdmissionResult is returned by every admission check (spec §4.2).
type AdmissionResult struct {
	Allowed           bool
	RemainingTokens   int
	Limit             int
	ResetAt           time.Time
	RetryAfterSeconds int
	Reason            string
}

// Store is the pluggable backing for bucket state, so a single-node
// in-memory map and a distributed Redis store share one contract (spec §9
// "isolate each behind a small service interface").
type Store interface {
	// TryConsume atomically refills then consumes n tokens from key's
	// bucket, creating it with the given capacity/rate on first use.
	TryConsume(key string, capacity, refillRatePerSecond, n float64, now time.Time) AdmissionResult
}

// MemoryStore is the default single-node Store. A single store-wide mutex
// guards the map and every bucket in it; there is no separate lock per
// key, so calls for different keys are serialized as well.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*BucketState
}

// NewMemoryStore creates an empty in-memory token bucket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*BucketState)}
}

// TryConsume implements Store.
func (s *MemoryStore) TryConsume(key string, capacity, refillRatePerSecond, n float64, now time.Time) AdmissionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &BucketState{Capacity: capacity, RefillRatePerSecond: refillRatePerSecond, Tokens: capacity, LastRefillAt: now}
		s.buckets[key] = b
	}

	refill(b, now)
	return consume(b, n, now)
}

// refill computes tokens = min(capacity, tokens + elapsed*rate) and
// advances lastRefillAt (spec §4.2 "Token bucket").
func refill(b *BucketState, now time.Time) {
	elapsed := now.Sub(b.LastRefillAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.Tokens = math.Min(b.Capacity, b.Tokens+elapsed*b.RefillRatePerSecond)
	b.LastRefillAt = now
}

// consume deducts n tokens if available and builds the AdmissionResult.
// Implementers MUST refill before reporting (spec §9 "floating-point token
// accounting"); refill must already have run on b before calling this.
func consume(b *BucketState, n float64, now time.Time) AdmissionResult {
	resetAt := now
	if b.Tokens <= 0 {
		secondsToOneToken := (1 - b.Tokens) / b.RefillRatePerSecond
		resetAt = now.Add(time.Duration(secondsToOneToken * float64(time.Second)))
	}
	retryAfter := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if retryAfter < 0 {
		retryAfter = 0
	}

	if b.Tokens >= n {
		b.Tokens -= n
		return AdmissionResult{
			Allowed:         true,
			RemainingTokens: int(math.Floor(b.Tokens)),
			Limit:           int(b.Capacity),
			ResetAt:         resetAt,
		}
	}

	return AdmissionResult{
		Allowed:           false,
		RemainingTokens:   int(math.Floor(b.Tokens)),
		Limit:             int(b.Capacity),
		ResetAt:           resetAt,
		RetryAfterSeconds: retryAfter,
		Reason:            "rate limit exceeded",
	}
}

// Limiter implements the §4.2 tenant/actor admission rules: a tenant
// rejection takes precedence over an actor check, and both must admit.
type Limiter struct {
	store Store

	tenantCapacity  float64
	tenantRate      float64
	actorEnabled    bool
	actorCapacity   float64
	actorRate       float64
}

// Config configures a Limiter.
type Config struct {
	BucketCapacity               float64
	RefillRatePerSecond          float64
	EnablePerActorLimits         bool
	MaxRequestsPerActorPerMinute float64
}

// New builds a Limiter backed by store.
func New(store Store, cfg Config) *Limiter {
	return &Limiter{
		store:          store,
		tenantCapacity: cfg.BucketCapacity,
		tenantRate:     cfg.RefillRatePerSecond,
		actorEnabled:   cfg.EnablePerActorLimits,
		actorCapacity:  cfg.MaxRequestsPerActorPerMinute,
		actorRate:      cfg.MaxRequestsPerActorPerMinute / 60.0,
	}
}

// TenantKey builds the coarse admission key (spec §4.2 "Keys").
func TenantKey(tenantID string) string { return fmt.Sprintf("tenant:%s", tenantID) }

// ActorKey builds the per-actor admission key.
func ActorKey(tenantID, actorID string) string { return fmt.Sprintf("tenant:%s:actor:%s", tenantID, actorID) }

// Admit checks the tenant bucket and, if per-actor limits are enabled, the
// actor bucket, at time now. A tenant rejection takes precedence over an
// actor rejection (spec §4.2 "Keys").
func (l *Limiter) Admit(tenantID, actorID string, now time.Time) AdmissionResult {
	tenantResult := l.store.TryConsume(TenantKey(tenantID), l.tenantCapacity, l.tenantRate, 1, now)
	if !tenantResult.Allowed {
		return tenantResult
	}

	if !l.actorEnabled || actorID == "" {
		return tenantResult
	}

	actorResult := l.store.TryConsume(ActorKey(tenantID, actorID), l.actorCapacity, l.actorRate, 1, now)
	if !actorResult.Allowed {
		return actorResult
	}

	return tenantResult
}
