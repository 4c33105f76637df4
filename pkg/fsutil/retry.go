package fsutil

import (
	"context"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/treesync/pkg/errors"
)

// The retry parameters are variables so that unit tests don't have to wait.
var (
	maxRetries  = 5
	retryBase   = 100 * time.Millisecond
	sleepOrDone = sleepOrDoneImpl
)

// IsTransient returns whether `err` is likely to go away if the operation is
// retried, e.g. because another process briefly holds a lock on the file.
func IsTransient(err error) bool {
	err = errors.RootCause(err)
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// Retry runs `fn` until it succeeds, fails with a non-transient error, or
// runs out of attempts. The wait between attempts doubles each time.
func Retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}

		if attempt == maxRetries {
			break
		}

		wait := retryBase * (1 << uint(attempt-1))
		log.WithError(err).WithField("op", op).Debugf("Transient error. Retrying in %s.", wait)
		if err := sleepOrDone(ctx, wait); err != nil {
			return err
		}
	}
	return errors.WithContext(lastErr, "retries exhausted")
}

func sleepOrDoneImpl(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
