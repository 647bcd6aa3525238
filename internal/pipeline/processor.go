package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// InvokerFunc adapts an in-process processor function to Invoker.
type InvokerFunc func(ctx context.Context, msg TransformedMessage) error

func (f InvokerFunc) Invoke(ctx context.Context, msg TransformedMessage) error {
	return f(ctx, msg)
}

// InvokeWithDeadline calls inv and waits at most deadline for it.
// The call runs detached from ctx's cancellation: shutting a router down
// does not abort an in-flight invocation, only the deadline does. A call
// still running at the deadline is reported as a timeout even if it
// completes later.
func InvokeWithDeadline(ctx context.Context, inv Invoker, msg TransformedMessage, deadline time.Duration) Result {
	start := time.Now()
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- inv.Invoke(ictx, msg)
	}()

	select {
	case err := <-done:
		elapsed := time.Since(start)
		switch {
		case err == nil:
			return Result{Outcome: OutcomeSuccess, Duration: elapsed}
		case errors.Is(err, context.DeadlineExceeded) && ictx.Err() != nil:
			return Result{Outcome: OutcomeTimeout, Err: fmt.Errorf("%w after %s: %w", ErrInvocationTimeout, deadline, err), Duration: elapsed}
		default:
			return Result{Outcome: OutcomeFailure, Err: fmt.Errorf("%w: %w", ErrProcessorFailed, err), Duration: elapsed}
		}
	case <-ictx.Done():
		return Result{Outcome: OutcomeTimeout, Err: fmt.Errorf("%w after %s", ErrInvocationTimeout, deadline), Duration: time.Since(start)}
	}
}

// deliver runs transform and invoke for one event.
func deliver(ctx context.Context, inv Invoker, ev Event, maxPayload int, deadline time.Duration) Result {
	msg, err := Transform(ev, maxPayload)
	if err != nil {
		return Result{Outcome: OutcomeFailure, Err: err}
	}
	return InvokeWithDeadline(ctx, inv, msg, deadline)
}
