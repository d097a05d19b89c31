package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// errStepTimeout marks a step that ran past its budget.
var errStepTimeout = errors.New("step timed out")

// runStep calls fn under its own deadline. The step context is cancelled at
// the deadline and runStep returns at once; a call that ignores its context
// finishes into a buffered channel nobody reads.
func runStep[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan fn.Result[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fn.Err[T](fmt.Errorf("adapter panic: %v", p))
			}
		}()
		v, err := call(stepCtx)
		if err != nil {
			done <- fn.Err[T](err)
			return
		}
		done <- fn.Ok(v)
	}()

	var zero T
	select {
	case res := <-done:
		v, err := res.Unpack()
		if err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return zero, errStepTimeout
		}
		return v, err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, errStepTimeout
	}
}

// evidenceOf folds a step outcome into an Evidence value.
func evidenceOf(text string, err error) Evidence {
	switch {
	case errors.Is(err, errStepTimeout):
		return TimedOut()
	case err != nil:
		return Failed(err.Error())
	}
	return OK(text)
}
