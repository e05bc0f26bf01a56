package outbox

import (
	"math"
	"math/rand"
	"time"
)

// retryDelay doubles from one second per failed attempt, capped at
// maxBackoff.
func retryDelay(attempts int, maxBackoff time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempts-1)) * float64(time.Second))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// retryJitter spreads retries of simultaneously failed events over
// [0, maxJitter] so they do not reclaim in lockstep.
func retryJitter(r *rand.Rand, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 || r == nil {
		return 0
	}
	return time.Duration(r.Int63n(int64(maxJitter) + 1)) //nolint:gosec
}
