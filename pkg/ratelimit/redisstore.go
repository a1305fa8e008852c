package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// bucketRefillScript atomically refills and consumes n tokens from the hash
// at KEYS[1], returning {allowedFlag, tokensRemainingAsString} (the
// remaining count is not floored). Hash fields: tokens, last_refill (unix
// seconds, fractional). Created lazily with capacity on first use, same as
// MemoryStore.
const bucketRefillScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = capacity
local lastRefill = now

local existing = redis.call("HMGET", key, "tokens", "last_refill")
if existing[1] then
  tokens = tonumber(existing[1])
  lastRefill = tonumber(existing[2])
end

local elapsed = now - lastRefill
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= n then
  tokens = tokens - n
  allowed = 1
end

redis.call("HMSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
redis.call("EXPIRE", key, ttl)

return {allowed, tostring(tokens)}
`

// RedisStore is the distributed Store variant (spec §9 "the design admits
// an optional distributed store, at the cost of a network round trip per
// admission check"), grounded on internal/auth.RateLimiter's redis.Client
// usage, generalized from INCR+EXPIRE to a Lua-scripted token bucket so the
// refill-then-consume sequence stays atomic across gateway instances.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

// NewRedisStore creates a distributed token bucket store. ttl bounds how
// long an idle key's hash survives in Redis; it should exceed capacity/rate
// so a bucket that drains to empty can still fully refill before expiring.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, script: redis.NewScript(bucketRefillScript), ttl: ttl}
}

// TryConsume implements Store against Redis.
func (s *RedisStore) TryConsume(key string, capacity, refillRatePerSecond, n float64, now time.Time) AdmissionResult {
	ctx := context.Background()

	ttlSeconds := int(s.ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}

	res, err := s.script.Run(ctx, s.client, []string{redisKey(key)},
		capacity, refillRatePerSecond, n, float64(now.UnixNano())/1e9, ttlSeconds).Result()
	if err != nil {
		// Fail closed: an unreachable limiter store must not be mistaken
		// for an empty bucket silently granting unlimited admission.
		return AdmissionResult{Allowed: false, Reason: fmt.Sprintf("rate limiter store unavailable: %v", err), RetryAfterSeconds: 1}
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return AdmissionResult{Allowed: false, Reason: "rate limiter store returned an unexpected shape"}
	}

	allowed := fmt.Sprint(arr[0]) == "1"
	tokensRemaining, _ := strconv.ParseFloat(fmt.Sprint(arr[1]), 64)

	result := AdmissionResult{
		Allowed:         allowed,
		RemainingTokens: int(tokensRemaining),
		Limit:           int(capacity),
	}
	if !allowed {
		secondsToOneToken := (1 - tokensRemaining) / refillRatePerSecond
		if secondsToOneToken < 0 {
			secondsToOneToken = 0
		}
		result.RetryAfterSeconds = int(secondsToOneToken + 0.999)
		result.ResetAt = now.Add(time.Duration(secondsToOneToken * float64(time.Second)))
		result.Reason = "rate limit exceeded"
	}
	return result
}

func redisKey(key string) string { return fmt.Sprintf("scimgateway:ratelimit:%s", key) }
