package pipeline

import "errors"

var (
	// ErrSourceUnavailable wraps transient poll failures. The router backs
	// off and polls again; the processor never sees these.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrPayloadTooLarge is the only way a transform can fail.
	ErrPayloadTooLarge = errors.New("payload too large")

	ErrInvocationTimeout = errors.New("invocation deadline exceeded")
	ErrProcessorFailed   = errors.New("processor failed")
)
