package syncfolder

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parlorsh/parlor/internal/errs"
)

// withRetry runs op up to maxRetries+1 times with exponential backoff
// (baseDelay, capped at maxDelay) for retryable errors (errs.KindNetwork);
// any other classified error, or exhausting the retry budget, returns
// immediately. Auth and NotFound are never retryable per the taxonomy, so
// they fall straight through.
func withRetry(ctx context.Context, maxRetries uint64, baseDelay, maxDelay time.Duration, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries instead of wall-clock

	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if classified, ok := errs.As(err); ok && classified.Kind.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
