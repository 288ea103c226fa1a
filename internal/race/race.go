// Package race resolves a set of independent operations with the first one
// that succeeds.
package race

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrAllSourcesFailed is wrapped with the combined errors of every operation
// when none of them succeeded.
var ErrAllSourcesFailed = errors.New("all sources failed")

// Op is one contender. It must return promptly once ctx is cancelled.
type Op[T any] func(ctx context.Context) (T, error)

type outcome[T any] struct {
	index int
	value T
	err   error
}

// FirstSuccess starts every op concurrently and returns the value of the
// first one to succeed. Remaining ops are cancelled through their context
// and their results are discarded without blocking. It fails only after
// every op has failed.
func FirstSuccess[T any](ctx context.Context, ops ...Op[T]) (T, error) {
	var zero T
	if len(ops) == 0 {
		return zero, fmt.Errorf("%w: no sources configured", ErrAllSourcesFailed)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so losers finishing after the winner never block.
	results := make(chan outcome[T], len(ops))
	for i, op := range ops {
		go func(i int, op Op[T]) {
			results <- run(raceCtx, i, op)
		}(i, op)
	}

	var errs error
	for range ops {
		res := <-results
		if res.err == nil {
			return res.value, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("source %d: %w", res.index, res.err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errs)
}

func run[T any](ctx context.Context, i int, op Op[T]) (res outcome[T]) {
	res.index = i
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()
	if op == nil {
		res.err = errors.New("nil operation")
		return res
	}
	res.value, res.err = op(ctx)
	return res
}

// Errors returns the individual source failures behind an error wrapping
// ErrAllSourcesFailed, or nil for any other error.
func Errors(err error) []error {
	if !errors.Is(err, ErrAllSourcesFailed) {
		return nil
	}
	for ; err != nil; err = errors.Unwrap(err) {
		u, ok := err.(interface{ Unwrap() []error })
		if !ok {
			continue
		}
		var out []error
		for _, e := range u.Unwrap() {
			if e == ErrAllSourcesFailed {
				continue
			}
			out = append(out, multierr.Errors(e)...)
		}
		return out
	}
	return nil
}
