package sync

import "time"

// MaxRetries is the number of automatic sync attempts per event. Once
// exhausted, only a manual retry can revive the event.
const MaxRetries = 5

// retryDelays maps attempt number to the wait before the next attempt.
var retryDelays = [MaxRetries]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	4 * time.Hour,
}

// RetryDelay returns the backoff delay after the given failed attempt
// (1-based). ok is false when the attempt number is outside the retry
// budget, meaning no further automatic attempt is scheduled.
func RetryDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > MaxRetries {
		return 0, false
	}
	return retryDelays[attempt-1], true
}
