// Package retry re-runs fallible operations at a fixed interval until they
// succeed or the attempt cap is reached.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 10
	DefaultInterval    = time.Second
)

// ErrRetryExhausted is wrapped together with the last operation error once
// every attempt has failed.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt int, err error, next time.Duration)

type options struct {
	maxAttempts int
	interval    time.Duration
	notify      Notify
}

type Option func(*options)

// WithMaxAttempts caps the number of calls made to the operation. Values
// below one are treated as one.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithInterval sets the pause between two attempts.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

func WithNotify(fn Notify) Option {
	return func(o *options) { o.notify = fn }
}

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, MaxAttempts is reached or ctx is done.
// The returned error wraps ErrRetryExhausted and the last error from op when
// all attempts fail.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{maxAttempts: DefaultMaxAttempts, interval: DefaultInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	if o.interval < 0 {
		o.interval = 0
	}

	var (
		attempts  int
		lastErr   error
		permanent bool
	)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.interval), uint64(o.maxAttempts-1)),
		ctx,
	)

	operation := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err != nil {
			lastErr = err
			var perm *backoff.PermanentError
			permanent = errors.As(err, &perm)
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		if o.notify != nil {
			o.notify(attempts, err, next)
		}
	}

	res, err := backoff.RetryNotifyWithData(operation, policy, notify)
	switch {
	case err == nil:
		return res, nil
	case permanent:
		return res, err
	case ctx.Err() != nil && attempts < o.maxAttempts:
		if lastErr != nil {
			return res, fmt.Errorf("retry aborted after %d attempts: %w (last error: %w)", attempts, ctx.Err(), lastErr)
		}
		return res, fmt.Errorf("retry aborted after %d attempts: %w", attempts, ctx.Err())
	default:
		return res, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
	}
}
