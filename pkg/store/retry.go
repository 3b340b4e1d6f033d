package store

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"github.com/receiptgate/core/pkg/rgerr"
)

// IsTransient reports whether err is worth a single retry (§6.4): any error
// whose rgerr kind is Backend or Timeout. The underlying driver error is not
// inspected, so every Backend-kind failure counts, not only connection
// resets. Conflict, not-found and validation failures are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return false
	}
	kind := rgerr.KindOf(err)
	return kind == rgerr.Backend || kind == rgerr.Timeout
}

// WithRetry runs fn, retrying exactly once after a short backoff if the
// first attempt fails with a transient error. It never retries
// non-transient failures such as ErrConflict.
func WithRetry(ctx context.Context, fn func(context.Context) error) error {
	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		err := fn(ctx)
		if err != nil && IsTransient(err) && attempts < 2 {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(2),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	return err
}
