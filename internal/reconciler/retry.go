package reconciler

import (
	"context"
	"time"
)

// pollUntil runs check up to attempts times with a fixed delay before each
// try, stopping early when check reports done. It returns whether the
// condition was met; callers proceed with best-known state when it was
// not. Errors inside check are the caller's to record; returning
// (false, nil) simply schedules another attempt.
func pollUntil(ctx context.Context, attempts int, delay time.Duration, check func() bool) bool {
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if check() {
			return true
		}
	}
	return false
}
