package queue

import "time"

// maxRetryDelay caps the queued retry backoff.
const maxRetryDelay = 60 * time.Minute

// retryDelay returns how long to wait before retrying an item after its
// attempts counter has been incremented to attempts. The schedule is
// 5 * 2^attempts minutes capped at 60 minutes: 10m, 20m, 40m, then 60m.
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	// 1 << 4 already exceeds the cap, avoid shifting by large counts.
	if attempts > 4 {
		return maxRetryDelay
	}
	delay := time.Duration(5*(1<<uint(attempts))) * time.Minute
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
