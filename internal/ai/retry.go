package ai

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"time"
)

// retryPolicy bounds how often and how patiently a request is repeated.
// attempts counts total tries, so 1 disables retries.
type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

func newRetryPolicy(attempts int, base, max, defBase, defMax time.Duration) retryPolicy {
	if attempts <= 0 {
		attempts = 1
	}
	if base <= 0 {
		base = defBase
	}
	if max <= 0 {
		max = defMax
	}
	return retryPolicy{attempts: attempts, base: base, max: max}
}

// outcome is the result of one round trip.
type outcome struct {
	err   error
	retry bool
	// after overrides the backoff when the provider asked for a delay.
	after time.Duration
}

// do runs call until it succeeds, fails permanently, or attempts run out.
func (p retryPolicy) do(ctx context.Context, call func(context.Context) outcome) error {
	delay := p.base
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		o := call(ctx)
		if o.err == nil || !o.retry || n >= p.attempts {
			return o.err
		}
		wait := o.after
		if wait <= 0 {
			wait = withJitter(delay)
			delay *= 2
		}
		if p.max > 0 && wait > p.max {
			wait = p.max
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF)
}

// withJitter returns d with +/- 20% jitter applied.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	out := time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
	if out <= 0 {
		return d
	}
	return out
}
