package llm

import (
	"math/rand"
	"time"
)

// maxBackoff caps a single retry delay.
const maxBackoff = 30 * time.Second

// CalculateBackoff returns exponential backoff with jitter.  The base delay
// is doubled each attempt, jitter is +/-25%.
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2+1)) - backoff/4
	return backoff + jitter
}
