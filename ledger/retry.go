package ledger

import (
	"context"
	"time"
)

// RetryBaseDelay is the first backoff interval; it doubles per attempt.
var RetryBaseDelay = 10 * time.Millisecond

// Retry runs fn up to attempts times while it fails with a retryable error
// (a lost compare-and-swap). fn must re-read everything it needs: each
// attempt starts from scratch.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := RetryBaseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
