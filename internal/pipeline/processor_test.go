package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeWithDeadline_Success(t *testing.T) {
	var got TransformedMessage
	inv := InvokerFunc(func(ctx context.Context, msg TransformedMessage) error {
		got = msg
		return nil
	})

	res := InvokeWithDeadline(context.Background(), inv, TransformedMessage{Body: "hello"}, time.Second)
	require.True(t, res.OK())
	assert.NoError(t, res.Err)
	assert.Equal(t, "hello", got.Body)
}

func TestInvokeWithDeadline_Failure(t *testing.T) {
	boom := errors.New("boom")
	inv := InvokerFunc(func(ctx context.Context, msg TransformedMessage) error {
		return boom
	})

	res := InvokeWithDeadline(context.Background(), inv, TransformedMessage{}, time.Second)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrProcessorFailed)
	assert.ErrorIs(t, res.Err, boom)
}

func TestInvokeWithDeadline_TimeoutEvenIfProcessorCompletesLater(t *testing.T) {
	finished := make(chan struct{})
	inv := InvokerFunc(func(ctx context.Context, msg TransformedMessage) error {
		// ignores ctx on purpose
		time.Sleep(200 * time.Millisecond)
		close(finished)
		return nil
	})

	start := time.Now()
	res := InvokeWithDeadline(context.Background(), inv, TransformedMessage{}, 20*time.Millisecond)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrInvocationTimeout)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	<-finished
}

func TestInvokeWithDeadline_ProcessorObservesDeadline(t *testing.T) {
	inv := InvokerFunc(func(ctx context.Context, msg TransformedMessage) error {
		<-ctx.Done()
		return ctx.Err()
	})

	res := InvokeWithDeadline(context.Background(), inv, TransformedMessage{}, 10*time.Millisecond)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrInvocationTimeout)
}

func TestInvokeWithDeadline_Panic(t *testing.T) {
	inv := InvokerFunc(func(ctx context.Context, msg TransformedMessage) error {
		panic("bad handler")
	})

	res := InvokeWithDeadline(context.Background(), inv, TransformedMessage{}, time.Second)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.ErrorContains(t, res.Err, "bad handler")
}

func TestInvokeWithDeadline_IgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := InvokerFunc(func(ctx context.Context, msg TransformedMessage) error {
		return ctx.Err()
	})

	res := InvokeWithDeadline(ctx, inv, TransformedMessage{}, time.Second)
	assert.True(t, res.OK())
}

func TestDeliver_TransformFailureSkipsInvoke(t *testing.T) {
	called := false
	inv := InvokerFunc(func(ctx context.Context, msg TransformedMessage) error {
		called = true
		return nil
	})

	res := deliver(context.Background(), inv, Event{Payload: []byte("too long")}, 3, time.Second)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrPayloadTooLarge)
	assert.False(t, called)
}
