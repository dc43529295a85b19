package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetryStopsAtCeiling(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "always-fails", fastConfig(3), func() error {
		calls++
		return errTransient
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want wrapped errTransient", err)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "flaky", fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryClassifierStopsImmediately(t *testing.T) {
	cfg := fastConfig(5)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, errTransient) }
	calls := 0
	err := Retry(context.Background(), "permanent", cfg, func() error {
		calls++
		return errPermanent
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if err != errPermanent {
		t.Fatalf("err = %v, want the unwrapped permanent error", err)
	}
}

func TestDoReturnsValueAndReportsRetries(t *testing.T) {
	cfg := fastConfig(4)
	var retried []int
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }
	calls := 0
	v, err := Do(context.Background(), "value", cfg, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("Do = (%q, %v), want (ok, nil)", v, err)
	}
	if len(retried) != 1 || retried[0] != 1 {
		t.Fatalf("OnRetry attempts = %v, want [1]", retried)
	}
}

func TestRetryAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, "cancelled", fastConfig(5), func() error {
		calls++
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestComputeDelayDoublesAndCaps(t *testing.T) {
	cfg := withDefaults(RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := computeDelay(i+1, cfg); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
}
