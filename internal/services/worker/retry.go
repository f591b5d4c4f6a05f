package worker

import (
	"fmt"
	"log"
	"time"
)

// retryWithBackoff retries operation up to maxAttempts times, sleeping
// 500ms, 2s, 4.5s ... between attempts. sleep is injected so tests do not wait.
func retryWithBackoff(label string, operation func() error, maxAttempts int, sleep func(time.Duration)) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 1 {
				log.Printf("%s: succeeded on retry %d/%d", label, attempt, maxAttempts)
			}
			return nil
		}

		lastErr = err

		// Don't sleep after last attempt
		if attempt < maxAttempts {
			backoff := time.Duration(500*attempt*attempt) * time.Millisecond
			log.Printf("%s: attempt %d/%d failed, retrying in %v: %v", label, attempt, maxAttempts, backoff, err)
			sleep(backoff)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
