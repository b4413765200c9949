package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how a remote operation is retried.
type Policy struct {
	// Attempts is the total number of attempts, including the first one.
	// Zero or negative means retry until the context is done.
	Attempts int

	// Backoff is the initial wait between attempts.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// Notify is called before each wait with the error that caused it.
	Notify func(err error, wait time.Duration)
}

// Default returns the policy used for every remote call: exponential backoff
// with jitter, capped at one minute, ten attempts in total.
func Default() Policy {
	return Policy{
		Attempts:   10,
		Backoff:    time.Second,
		MaxBackoff: 60 * time.Second,
	}
}

// WithNotify returns a copy of p that reports each retry to fn.
func (p Policy) WithNotify(fn func(err error, wait time.Duration)) Policy {
	p.Notify = fn
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()

	var bo backoff.BackOff = b
	if p.Attempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(p.Attempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The error of the final attempt is returned as is.
func Do(ctx context.Context, p Policy, op func() error) error {
	return backoff.RetryNotify(op, p.backOff(ctx), p.Notify)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(op, p.backOff(ctx), p.Notify)
}

// Permanent marks err so that Do stops retrying and returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
