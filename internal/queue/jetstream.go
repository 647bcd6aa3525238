package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/messaging"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// JetStreamQueue is a work-queue stream with one durable explicit-ack
// consumer. The consumer's AckWait is the visibility window: a fetched
// message that is not acked in time is redelivered. MaxDeliver is
// unlimited, so a message that keeps failing keeps coming back.
type JetStreamQueue struct {
	client     *messaging.Client
	subject    string
	visibility time.Duration
	consumer   jetstream.Consumer

	mu       sync.Mutex
	inflight map[string]inflightMsg
}

type inflightMsg struct {
	msg        jetstream.Msg
	receivedAt time.Time
}

// NewJetStreamQueue creates (or updates) the backing stream and consumer.
func NewJetStreamQueue(ctx context.Context, client *messaging.Client, name string, visibility time.Duration, maxInFlight int) (*JetStreamQueue, error) {
	if client == nil {
		return nil, errors.New("nats client is nil")
	}
	streamName := messaging.StreamName(name)
	subject := messaging.Subject(name)

	stream, err := client.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       streamName + "_PIPE",
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       visibility,
		MaxDeliver:    -1,
		MaxAckPending: maxInFlight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer for %s: %w", streamName, err)
	}

	logger.Get().Infow("jetstream queue ready",
		"stream", streamName,
		"subject", subject,
		"visibility_timeout", visibility,
	)
	return &JetStreamQueue{
		client:     client,
		subject:    subject,
		visibility: visibility,
		consumer:   consumer,
		inflight:   make(map[string]inflightMsg),
	}, nil
}

// Send publishes a payload and returns its stream sequence as the ID.
func (q *JetStreamQueue) Send(ctx context.Context, body []byte) (string, error) {
	ack, err := q.client.JetStream().Publish(ctx, q.subject, body)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", q.subject, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

func (q *JetStreamQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]pipeline.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}

	var (
		batch jetstream.MessageBatch
		err   error
	)
	if wait > 0 {
		batch, err = q.consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	} else {
		batch, err = q.consumer.FetchNoWait(max)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", q.subject, err)
	}

	now := time.Now()
	var events []pipeline.Event
	for msg := range batch.Messages() {
		ev := pipeline.Event{
			Payload:   msg.Data(),
			Kind:      pipeline.KindQueue,
			Handle:    uuid.New().String(),
			ArrivedAt: now,
		}
		if md, err := msg.Metadata(); err == nil {
			ev.ArrivedAt = md.Timestamp
			ev.ReceiveCount = int(md.NumDelivered)
		}
		events = append(events, ev)

		q.mu.Lock()
		q.inflight[ev.Handle] = inflightMsg{msg: msg, receivedAt: now}
		q.mu.Unlock()
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, jetstream.ErrNoMessages) {
		return events, fmt.Errorf("fetch from %s: %w", q.subject, err)
	}

	q.pruneExpired(now)
	return events, nil
}

// Delete acks the message. Handles whose visibility window has passed are
// rejected since the server has already scheduled a redelivery.
func (q *JetStreamQueue) Delete(ctx context.Context, handle string) error {
	q.mu.Lock()
	entry, ok := q.inflight[handle]
	delete(q.inflight, handle)
	q.mu.Unlock()

	if !ok || time.Since(entry.receivedAt) > q.visibility {
		return ErrReceiptHandleInvalid
	}
	if err := entry.msg.DoubleAck(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", handle, err)
	}
	return nil
}

func (q *JetStreamQueue) pruneExpired(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for handle, entry := range q.inflight {
		if now.Sub(entry.receivedAt) > q.visibility {
			delete(q.inflight, handle)
		}
	}
}
