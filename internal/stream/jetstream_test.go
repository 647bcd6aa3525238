package stream

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

func TestJetStreamStream_LatestAndRead(t *testing.T) {
	url := os.Getenv("PIPES_TEST_NATS_URL")
	if url == "" {
		t.Skip("PIPES_TEST_NATS_URL not set")
	}
	client, err := messaging.Connect(messaging.Config{URL: url, Name: "pipes-test", ReconnectWait: time.Second, Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	s, err := NewJetStreamStream(ctx, client, "test-stream-"+uuid.NewString()[:8], 1, time.Hour, 200*time.Millisecond)
	require.NoError(t, err)

	partitions, err := s.Partitions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{PartitionID(0)}, partitions)
	p := partitions[0]

	latest, err := s.Latest(ctx, p)
	require.NoError(t, err)
	assert.Zero(t, latest)

	var seqs []uint64
	for _, body := range []string{"r1", "r2", "r3"} {
		partition, seq, err := s.Put(ctx, "device-1", []byte(body))
		require.NoError(t, err)
		assert.Equal(t, p, partition)
		seqs = append(seqs, seq)
	}

	latest, err = s.Latest(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, seqs[2], latest)

	events, err := s.Read(ctx, p, seqs[0], 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "r2", string(events[0].Payload))
	assert.Equal(t, seqs[1], events[0].Sequence)

	// rewinding re-reads from the requested position
	events, err = s.Read(ctx, p, 0, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "r1", string(events[0].Payload))
}
