package pg

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

const (
	maxRetries = 3
	baseDelay  = 2 * time.Millisecond
)

// RetryOnConflict runs fn again, with exponential backoff, only while it fails
// with ErrConcurrentUpdate. Any other error is returned immediately.
func RetryOnConflict(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt) // 2ms, 4ms, 8ms
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%w: failed after %d attempts", ErrMaxRetriesExceeded, maxRetries+1)
}
