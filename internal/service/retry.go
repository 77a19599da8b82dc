package service

import (
	"context"
	"time"

	"task-planner/internal/exceptions"
	"task-planner/internal/repository"
)

// Contention controls retries of writes that hit a locked database.
type Contention struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultContention retries three times with a 200ms, 400ms backoff.
var DefaultContention = Contention{Attempts: 3, Backoff: 200 * time.Millisecond}

// Do runs op until it succeeds, fails with a non-transient error, or the
// attempts run out. Exhaustion surfaces as exceptions.ErrStorageUnavailable.
func (c Contention) Do(ctx context.Context, op func() error) error {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !repository.IsTransientLock(err) {
			return err
		}
		if attempt >= attempts {
			return exceptions.StorageUnavailable(err)
		}

		timer := time.NewTimer(c.Backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
