package polling

import (
	"math/rand"
	"time"
)

// backoffBase and backoffCap implement spec §4.7's retry schedule:
// "exponential backoff starting at 1s, doubling to a cap of 30s, with
// ±20% jitter".
const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
	jitterFrac  = 0.20
)

// nextBackoff computes the delay before retry attempt N (1-indexed),
// applying jitter via rng. A non-zero retryAfterFloor (from a 429
// response's Retry-After header) is honored as a floor on the computed
// delay (spec §4.7 "a 429 response honors its Retry-After value as the
// delay floor for the next attempt").
func nextBackoff(attempt int, retryAfterFloor time.Duration, rng *rand.Rand) time.Duration {
	delay := backoffBase << uint(attempt-1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}

	jitter := time.Duration(float64(delay) * jitterFrac * (rng.Float64()*2 - 1))
	delay += jitter
	if delay < 0 {
		delay = 0
	}

	if retryAfterFloor > delay {
		return retryAfterFloor
	}
	return delay
}
