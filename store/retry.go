package store

import (
	"context"
	"time"

	"github.com/adaptivecoach/memcore/internal/metrics"
)

// withRetry runs fn up to 1+retries times with linear backoff, honoring
// context cancellation between attempts.
func withRetry(ctx context.Context, store string, retries int, backoff time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			metrics.Default().ObserveRetry(store)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
