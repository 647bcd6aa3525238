package storage

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

func newFailedEvent() FailedEvent {
	return FailedEvent{
		Key:      "attempts:" + uuid.NewString(),
		Body:     `{"eventType":"SensorReading"}`,
		Attempts: 6,
		Reason:   ReasonMaxAttempts,
		FailedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Write(context.Background(), newFailedEvent()))
}

func TestMySQLStorageIntegration(t *testing.T) {
	dsn := os.Getenv("PIPES_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("PIPES_TEST_MYSQL_DSN not set")
	}

	store, err := NewMySQLStorage(dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate())

	ctx := context.Background()
	ev := newFailedEvent()
	require.NoError(t, store.Write(ctx, ev))

	// a second write for the same payload refreshes the row
	ev.Attempts = 7
	require.NoError(t, store.Write(ctx, ev))

	var (
		attempts int64
		body     string
		count    int
	)
	row := store.DB().QueryRowContext(ctx, "SELECT COUNT(*), MAX(attempts), MAX(body) FROM failed_events WHERE event_key = ?", ev.Key)
	require.NoError(t, row.Scan(&count, &attempts, &body))
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(7), attempts)
	assert.Equal(t, ev.Body, body)
}

func TestJetStreamSinkIntegration(t *testing.T) {
	url := os.Getenv("PIPES_TEST_NATS_URL")
	if url == "" {
		t.Skip("PIPES_TEST_NATS_URL not set")
	}
	client, err := messaging.Connect(messaging.Config{URL: url, Name: "pipes-test", ReconnectWait: time.Second, Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	sink, err := NewJetStreamSink(ctx, client, "test-failed-"+uuid.NewString()[:8])
	require.NoError(t, err)

	require.NoError(t, sink.Write(ctx, newFailedEvent()))
	assert.Equal(t, uint64(1), sink.Written())
}
