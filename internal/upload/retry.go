package upload

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy decides retry/backoff/give-up for a failed protocol operation.
// Attempt n waits min(initial * 2^(n-1), max) plus jitter, so many concurrent
// uploads don't synchronize into retry storms.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// retryable reports whether a failure may be repaired by retrying the same
// operation. Session expiry and permanent rejections never are; everything
// else (resets, timeouts, 5xx) is worth another attempt.
func retryable(err error) bool {
	var sessionErr *SessionExpiredError
	if errors.As(err, &sessionErr) {
		return false
	}

	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return false
	}

	return true
}

// retryClassified runs fn under the policy and returns the result together
// with the number of attempts made. Non-retryable failures are surfaced
// immediately; transient ones are retried until the budget runs out.
func retryClassified[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, operation string, fn func() (T, error)) (T, int, error) {
	attempts := 0

	op := func() (T, error) {
		attempts++

		result, err := fn()
		if err == nil {
			return result, nil
		}

		if !retryable(err) {
			return result, backoff.Permanent(err)
		}

		return result, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialBackoff
	expo.MaxInterval = p.MaxBackoff

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("operation failed, backing off",
				"operation", operation,
				"attempt", attempts,
				"max_attempts", p.MaxAttempts,
				"wait", wait.String(),
				"err", err)
		}),
	)

	return result, attempts, err
}
