package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
)

// Retry runs fn under a bounded exponential backoff, for the narrow cases
// where the scheduler must ride out transient contention on its own SQLite
// file: a SQLITE_BUSY write conflict, or another process briefly holding
// the database's file lock on startup.
func Retry[T any](ctx context.Context, maxElapsed time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	meter := otel.Meter("taskscheduler")
	attempts, _ := meter.Int64Counter("scheduler_store_retry_attempts_total")
	exhausted, _ := meter.Int64Counter("scheduler_store_retry_exhausted_total")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 1 * time.Second
	bo.MaxElapsedTime = maxElapsed
	bctx := backoff.WithContext(bo, ctx)

	var result T
	var lastErr error
	op := func() error {
		attempts.Add(ctx, 1)
		v, err := fn()
		if err != nil {
			lastErr = err
			return err
		}
		result = v
		return nil
	}
	if err := backoff.Retry(op, bctx); err != nil {
		exhausted.Add(ctx, 1)
		if lastErr != nil {
			return zero, lastErr
		}
		return zero, err
	}
	return result, nil
}
