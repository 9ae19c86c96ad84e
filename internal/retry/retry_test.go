package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func instant(ctx context.Context, d time.Duration) error { return nil }

func TestSucceedsAfterFailures(t *testing.T) {
	failures := 2
	calls := 0
	observed := 0
	opts := Options{
		MaxRetries: 4,
		OnRetry:    func(err error, attempt int) { observed++ },
	}.WithSleep(instant)
	v, err := Do(context.Background(), opts, func(ctx context.Context) (string, error) {
		calls++
		if calls <= failures {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Fatalf("unexpected value %q", v)
	}
	if observed != failures {
		t.Fatalf("expected %d retry observations, got %d", failures, observed)
	}
	if calls != failures+1 {
		t.Fatalf("expected %d calls, got %d", failures+1, calls)
	}
}

func TestExhaustionReturnsOriginalError(t *testing.T) {
	sentinel := errors.New("permanent failure")
	calls := 0
	opts := Options{MaxRetries: 3}.WithSleep(instant)
	_, err := Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if err != sentinel {
		t.Fatalf("expected the original error unwrapped, got %v", err)
	}
}

func TestDelayGrowthCappedAtMax(t *testing.T) {
	var delays []time.Duration
	opts := Options{
		MaxRetries:        5,
		InitialDelay:      time.Second,
		MaxDelay:          4 * time.Second,
		BackoffMultiplier: 2,
	}.WithSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})
	_, _ = Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		return 0, errors.New("always")
	})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestContextCancellationAbortsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := Options{MaxRetries: 3, InitialDelay: time.Millisecond}
	calls := 0
	_, err := Do(ctx, opts, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if err == nil {
		t.Fatalf("expected error")
	}
}
