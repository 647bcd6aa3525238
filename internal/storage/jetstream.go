package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/messaging"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// JetStreamSink publishes failed events to <prefix>.<reason> on a
// dedicated limits stream.
type JetStreamSink struct {
	client  *messaging.Client
	prefix  string
	stream  jetstream.Stream
	written uint64
}

func NewJetStreamSink(ctx context.Context, client *messaging.Client, prefix string) (*JetStreamSink, error) {
	if client == nil {
		return nil, errors.New("nats client is nil")
	}
	prefix = messaging.Subject(prefix)

	stream, err := client.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      messaging.StreamName(prefix),
		Subjects:  []string{prefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create failure stream: %w", err)
	}

	logger.Get().Infow("jetstream failure sink ready", "subject_prefix", prefix)
	return &JetStreamSink{client: client, prefix: prefix, stream: stream}, nil
}

func (s *JetStreamSink) Write(ctx context.Context, ev FailedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal failed event: %w", err)
	}

	subject := s.prefix + "." + ev.Reason
	if _, err := s.client.JetStream().Publish(ctx, subject, data); err != nil {
		logger.Get().Errorw("failed to publish failed event", "subject", subject, "error", err)
		return err
	}

	atomic.AddUint64(&s.written, 1)
	logger.Get().Warnw("published failed event", "subject", subject, "key", ev.Key)
	return nil
}

// Written returns how many events this sink published.
func (s *JetStreamSink) Written() uint64 {
	return atomic.LoadUint64(&s.written)
}
