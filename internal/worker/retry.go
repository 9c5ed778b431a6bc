package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy bounds the attempts made against the provider within one claim.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0..1, fraction of each delay randomised
	Sleeper     Sleeper
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.Sleeper == nil {
		p.Sleeper = realSleep
	}
	return p
}

// newBackOff returns a fresh exponential schedule: base, 2*base, 4*base ... capped at MaxDelay.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delays lists the waits between attempts under this policy, without sleeping.
func (p RetryPolicy) Delays() []time.Duration {
	p = p.normalized()
	b := p.newBackOff()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

// Do calls fn until it succeeds, returns a non-retriable error, or the attempts
// run out. retryAfter lets the provider lengthen a wait. It returns the number
// of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, retriable func(error) bool, retryAfter func(error) time.Duration, fn func(ctx context.Context) error) (int, error) {
	p = p.normalized()
	b := p.newBackOff()
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !retriable(err) || attempt >= p.MaxAttempts {
			return attempt, err
		}
		wait := b.NextBackOff()
		if ra := retryAfter(err); ra > wait {
			wait = ra
		}
		if wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		if serr := p.Sleeper(ctx, wait); serr != nil {
			return attempt, err
		}
	}
}
