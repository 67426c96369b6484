// Package retry bounds latency-sensitive queries with a per-attempt timeout and
// a fixed number of linearly backed-off retries.
package retry

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"io"
	"net"
	"syscall"
	"time"

	"delivery-core/internal/common/errors"
	"delivery-core/internal/common/logger"
	"delivery-core/internal/common/metrics"
)

// Guard retries transient failures. The zero value is not usable; build it with New.
type Guard struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration

	logger logger.Logger
}

func New(maxAttempts int, timeout, backoff time.Duration, log logger.Logger) *Guard {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Guard{
		MaxAttempts: maxAttempts,
		Timeout:     timeout,
		Backoff:     backoff,
		logger:      log,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, or MaxAttempts
// transient failures have been observed. Each call to fn gets its own deadline.
func (g *Guard) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= g.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			metrics.GuardAttempts.WithLabelValues(operation, "cancelled").Inc()
			return errors.NewTimeoutError(operation, attempt-1, err)
		}

		lastErr = g.attempt(ctx, fn)
		if lastErr == nil {
			metrics.GuardAttempts.WithLabelValues(operation, "success").Inc()
			return nil
		}

		if !IsTransient(lastErr) {
			metrics.GuardAttempts.WithLabelValues(operation, "permanent").Inc()
			return lastErr
		}

		metrics.GuardAttempts.WithLabelValues(operation, "transient").Inc()
		g.logger.Warn("transient failure, retrying", map[string]interface{}{
			"operation":   operation,
			"attempt":     attempt,
			"maxAttempts": g.MaxAttempts,
			"error":       lastErr,
		})

		if attempt == g.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.NewTimeoutError(operation, attempt, ctx.Err())
		case <-time.After(time.Duration(attempt) * g.Backoff):
		}
	}

	g.logger.Error("retries exhausted", map[string]interface{}{
		"operation": operation,
		"attempts":  g.MaxAttempts,
		"error":     lastErr,
	})
	return errors.NewTimeoutError(operation, g.MaxAttempts, lastErr)
}

func (g *Guard) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err == nil && stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		// fn ignored its context and finished late; the caller already gave up on it.
		return context.DeadlineExceeded
	}
	return err
}

// Query is Do for functions that produce a value.
func Query[T any](ctx context.Context, g *Guard, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := g.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// IsTransient reports whether err belongs to the failure classes worth retrying:
// timeouts, connection-layer errors and retryable StandardErrors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, driver.ErrBadConn) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	return errors.IsRetryable(err)
}
