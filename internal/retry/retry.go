package retry

import (
	"context"
	"time"
)

// Options bounds the backoff loop. Zero values fall back to defaults.
type Options struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier int
	// OnRetry observes each failed attempt before the next one is made.
	OnRetry func(err error, attempt int)
	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

const (
	defaultMaxRetries = 3
	defaultInitial    = time.Second
	defaultMax        = 10 * time.Second
	defaultMultiplier = 2
)

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultInitial
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMax
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = defaultMultiplier
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	return o
}

// WithSleep returns a copy using the given sleep function. Test hook.
func (o Options) WithSleep(fn func(ctx context.Context, d time.Duration) error) Options {
	o.sleep = fn
	return o
}

// Do runs op up to MaxRetries times with exponential backoff between
// attempts. All errors are treated as retryable; the last error is returned
// unchanged so callers can inspect the underlying failure kind.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()
	var zero T
	var lastErr error
	delay := opts.InitialDelay
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == opts.MaxRetries {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		}
		if err := opts.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
		delay *= time.Duration(opts.BackoffMultiplier)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
