package recalc

import (
	"context"
	"fmt"
	"time"

	"github.com/profitpeek/profitpeek/internal/metrics"
	"go.uber.org/zap"
)

// Retryer wraps read-side storage operations with bounded
// exponential-backoff retry. Final writes are not retried here; they
// are idempotent upserts the caller can safely re-run.
type Retryer struct {
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewRetryer creates a Retryer. maxAttempts below 1 becomes 1; a
// non-positive baseDelay becomes one second.
func NewRetryer(maxAttempts int, baseDelay time.Duration, logger *zap.Logger, m *metrics.Metrics) *Retryer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Retryer{maxAttempts: maxAttempts, baseDelay: baseDelay, logger: logger, metrics: m}
}

// Do runs fn, retrying on error with the delay doubling each attempt.
// Each failed attempt is logged with its ordinal. The final error is
// wrapped with the attempt count.
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := r.baseDelay
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		r.logger.Warn("storage operation failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Error(err),
		)

		if attempt < r.maxAttempts {
			r.metrics.RecordRetry(op)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, r.maxAttempts, err)
}

// RetryValue runs fn via the Retryer and returns its result.
func RetryValue[T any](ctx context.Context, r *Retryer, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = fn(ctx)
		return innerErr
	})
	return out, err
}
