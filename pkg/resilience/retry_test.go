package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "upsert", fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustedKeepsCause(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "upsert", fastRetry(2), func() error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("Retry() = %v, want wrapped errTransient", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryIfStopsEarly(t *testing.T) {
	cfg := fastRetry(5)
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, errPermanent) }
	calls := 0
	err := Retry(context.Background(), "upsert", cfg, func() error {
		calls++
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("Retry() = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	err := Retry(ctx, "upsert", cfg, func() error {
		calls++
		cancel()
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithTimeout(t *testing.T) {
	errKind := errors.New("provisioning")

	release := make(chan struct{})
	defer close(release)
	v, err := WithTimeout(context.Background(), 10*time.Millisecond, errKind, func(ctx context.Context) (int, error) {
		<-release
		return 7, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, errKind) || v != 0 {
		t.Fatalf("WithTimeout() = %d, %v, want 0 and DeadlineExceeded wrapped in kind", v, err)
	}

	v, err = WithTimeout(context.Background(), time.Second, errKind, func(ctx context.Context) (int, error) {
		return 0, errPermanent
	})
	if !errors.Is(err, errPermanent) || errors.Is(err, errKind) {
		t.Fatalf("WithTimeout() = %v, want errPermanent unwrapped", err)
	}

	v, err = WithTimeout(context.Background(), time.Second, errKind, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("WithTimeout() = %d, %v", v, err)
	}
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, time.Second, nil, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WithTimeout() = %v, want Canceled", err)
	}
}
