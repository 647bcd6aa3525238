// Package queue provides the at-least-once queue sources: an in-process
// queue and a NATS JetStream work queue.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
)

// ErrReceiptHandleInvalid is returned by Delete for a handle that was
// never issued, was already used, or belongs to an earlier receive of a
// message that has since been redelivered.
var ErrReceiptHandleInvalid = errors.New("receipt handle is invalid")

// MemoryQueue is an in-process queue with visibility-window semantics.
// A received message is hidden until it is deleted or its visibility
// window elapses, after which any poller can receive it again with a new
// receipt handle.
type MemoryQueue struct {
	name       string
	visibility time.Duration

	mu        sync.Mutex
	messages  []*message
	byReceipt map[string]*message
	notify    chan struct{}
}

type message struct {
	id           string
	body         []byte
	sentAt       time.Time
	visibleAt    time.Time
	receipt      string
	receiveCount int
}

func NewMemoryQueue(name string, visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{
		name:       name,
		visibility: visibility,
		byReceipt:  make(map[string]*message),
		notify:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Name() string {
	return q.name
}

// Send enqueues an opaque payload and returns its message ID.
func (q *MemoryQueue) Send(ctx context.Context, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m := &message{
		id:     uuid.New().String(),
		body:   append([]byte(nil), body...),
		sentAt: time.Now(),
	}

	q.mu.Lock()
	q.messages = append(q.messages, m)
	q.wakeLocked()
	q.mu.Unlock()
	return m.id, nil
}

// Receive long-polls for up to max visible messages, waiting at most
// wait. It returns an empty slice when nothing became visible in time.
func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]pipeline.Event, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)

	for {
		q.mu.Lock()
		events, nextVisible := q.takeVisibleLocked(time.Now(), max)
		notify := q.notify
		q.mu.Unlock()

		if len(events) > 0 {
			return events, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ctx.Err()
		}
		if nextVisible > 0 && nextVisible < remaining {
			remaining = nextVisible
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// takeVisibleLocked marks up to max visible messages as received. It also
// returns how long until the next hidden message becomes visible, or 0
// if none is hidden.
func (q *MemoryQueue) takeVisibleLocked(now time.Time, max int) ([]pipeline.Event, time.Duration) {
	var (
		events      []pipeline.Event
		nextVisible time.Duration
	)
	for _, m := range q.messages {
		if m.visibleAt.After(now) {
			if d := m.visibleAt.Sub(now); nextVisible == 0 || d < nextVisible {
				nextVisible = d
			}
			continue
		}
		if len(events) == max {
			continue
		}

		if m.receipt != "" {
			delete(q.byReceipt, m.receipt)
		}
		m.receipt = uuid.New().String()
		m.receiveCount++
		m.visibleAt = now.Add(q.visibility)
		q.byReceipt[m.receipt] = m

		events = append(events, pipeline.Event{
			Payload:      append([]byte(nil), m.body...),
			Kind:         pipeline.KindQueue,
			Handle:       m.receipt,
			ArrivedAt:    m.sentAt,
			ReceiveCount: m.receiveCount,
		})
	}
	return events, nextVisible
}

// Delete acknowledges a received message using its latest receipt handle.
func (q *MemoryQueue) Delete(ctx context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.byReceipt[handle]
	if !ok {
		return ErrReceiptHandleInvalid
	}
	delete(q.byReceipt, handle)
	for i, candidate := range q.messages {
		if candidate == m {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of undeleted messages, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// InFlight returns the number of received messages still hidden.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	n := 0
	for _, m := range q.messages {
		if m.visibleAt.After(now) {
			n++
		}
	}
	return n
}

func (q *MemoryQueue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}
