package engine

import (
	"math/rand"
	"time"
)

const maxBackoff = 2 * time.Minute

// calculateBackoff returns 2^retryCount * baseDelay with ±25% jitter,
// capped at two minutes.
func calculateBackoff(retryCount int, baseDelay time.Duration) time.Duration {
	delay := baseDelay * (1 << uint(retryCount))

	jitterFactor := 0.75 + 0.5*rand.Float64()
	jitter := time.Duration(float64(delay) * jitterFactor)

	if jitter > maxBackoff || jitter < 0 {
		jitter = maxBackoff
	}

	return jitter
}
