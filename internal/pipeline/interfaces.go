package pipeline

import (
	"context"
	"time"
)

// Invoker delivers one transformed message to the event processor.
// A nil error is the only success signal.
type Invoker interface {
	Invoke(ctx context.Context, msg TransformedMessage) error
}

// QueueSource is an at-least-once queue. A received message stays
// invisible for the queue's visibility window; if it is not deleted in
// that time it becomes receivable again.
type QueueSource interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]Event, error)
	Delete(ctx context.Context, handle string) error
}

// StreamSource is a partitioned, ordered log. Sequence numbers increase
// within a partition; Read returns records strictly after the given
// sequence, oldest first.
type StreamSource interface {
	Partitions(ctx context.Context) ([]string, error)
	Latest(ctx context.Context, partition string) (uint64, error)
	Read(ctx context.Context, partition string, after uint64, limit int) ([]Event, error)
}
