package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/messaging"
)

func connectNATS(t *testing.T) *messaging.Client {
	t.Helper()
	url := os.Getenv("PIPES_TEST_NATS_URL")
	if url == "" {
		t.Skip("PIPES_TEST_NATS_URL not set")
	}
	c, err := messaging.Connect(messaging.Config{URL: url, Name: "pipes-test", ReconnectWait: time.Second, Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestJetStreamQueue_DeleteOnSuccessAndRedelivery(t *testing.T) {
	client := connectNATS(t)
	ctx := context.Background()

	q, err := NewJetStreamQueue(ctx, client, "test-queue-"+uuid.NewString()[:8], time.Second, 10)
	require.NoError(t, err)

	_, err = q.Send(ctx, []byte("keep"))
	require.NoError(t, err)
	_, err = q.Send(ctx, []byte("ack"))
	require.NoError(t, err)

	events, err := q.Receive(ctx, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, events, 2)

	for _, ev := range events {
		if string(ev.Payload) == "ack" {
			require.NoError(t, q.Delete(ctx, ev.Handle))
		}
	}

	// "keep" comes back once its visibility window elapses
	redelivered, err := q.Receive(ctx, 2, 3*time.Second)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, "keep", string(redelivered[0].Payload))
	assert.Equal(t, 2, redelivered[0].ReceiveCount)

	assert.ErrorIs(t, q.Delete(ctx, "unknown"), ErrReceiptHandleInvalid)
	require.NoError(t, q.Delete(ctx, redelivered[0].Handle))
}
