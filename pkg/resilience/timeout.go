package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn under a deadline derived from ctx and returns its
// result. If the deadline or ctx ends first, the zero T is returned with an
// error wrapping both kind and the context error, so callers can classify the
// failure without inspecting fn's partial state. fn keeps running in the
// background until it observes its context. A non-positive timeout runs fn
// with ctx unchanged.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, kind error, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	boundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(boundCtx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-boundCtx.Done():
		cause := fmt.Errorf("timed out after %v: %w", timeout, context.DeadlineExceeded)
		if ctx.Err() != nil {
			cause = fmt.Errorf("parent context ended: %w", ctx.Err())
		}
		if kind == nil {
			return zero, cause
		}
		return zero, fmt.Errorf("%w: %w", kind, cause)
	}
}
