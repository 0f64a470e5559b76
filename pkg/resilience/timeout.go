package resilience

import (
	"context"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
)

// Call runs fn with a deadline of timeout and returns as soon as it expires,
// even if fn has not. Expiry yields an apperrors.ErrTimeout error that also
// matches context.DeadlineExceeded; a cancelled parent yields ctx.Err().
// A timeout of zero calls fn directly.
func Call[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err == nil || callCtx.Err() == nil {
			return r.v, r.err
		}
	case <-callCtx.Done():
	}
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, &timeoutError{op: op, limit: timeout}
}

type timeoutError struct {
	op    string
	limit time.Duration
}

func (e *timeoutError) Error() string {
	return e.op + ": " + apperrors.ErrTimeout.Error() + " after " + e.limit.String()
}

func (e *timeoutError) Is(target error) bool {
	return target == apperrors.ErrTimeout || target == context.DeadlineExceeded
}
