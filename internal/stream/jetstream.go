package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/messaging"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// JetStreamStream maps each partition onto the subject <name>.<partition>
// of one limits-retention stream whose MaxAge is the retention window.
// Sequences are the stream's global sequence numbers, which increase
// within every subject.
type JetStreamStream struct {
	client     *messaging.Client
	stream     jetstream.Stream
	streamName string
	prefix     string
	partitions []string
	fetchWait  time.Duration

	mu      sync.Mutex
	readers map[string]*orderedReader
}

// orderedReader caches an ordered consumer positioned at next.
type orderedReader struct {
	consumer jetstream.Consumer
	next     uint64
}

func NewJetStreamStream(ctx context.Context, client *messaging.Client, name string, partitions int, retention, fetchWait time.Duration) (*JetStreamStream, error) {
	if client == nil {
		return nil, errors.New("nats client is nil")
	}
	if partitions <= 0 {
		partitions = 1
	}
	streamName := messaging.StreamName(name)
	prefix := messaging.Subject(name)

	stream, err := client.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{prefix + ".*"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    retention,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, partitions)
	for i := range ids {
		ids[i] = PartitionID(i)
	}

	logger.Get().Infow("jetstream stream ready",
		"stream", streamName,
		"partitions", partitions,
		"retention", retention,
	)
	return &JetStreamStream{
		client:     client,
		stream:     stream,
		streamName: streamName,
		prefix:     prefix,
		partitions: ids,
		fetchWait:  fetchWait,
		readers:    make(map[string]*orderedReader),
	}, nil
}

func (s *JetStreamStream) subject(partition string) string {
	return s.prefix + "." + partition
}

func (s *JetStreamStream) Put(ctx context.Context, partitionKey string, data []byte) (string, uint64, error) {
	id := s.partitions[PartitionFor(partitionKey, len(s.partitions))]
	ack, err := s.client.JetStream().Publish(ctx, s.subject(id), data)
	if err != nil {
		return "", 0, fmt.Errorf("publish to %s: %w", s.subject(id), err)
	}
	return id, ack.Sequence, nil
}

func (s *JetStreamStream) Partitions(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.partitions...), nil
}

// Latest returns the stream's last sequence. Every record published to
// partition afterwards has a larger sequence.
func (s *JetStreamStream) Latest(ctx context.Context, partition string) (uint64, error) {
	if !s.known(partition) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	info, err := s.stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("stream info %s: %w", s.streamName, err)
	}
	return info.State.LastSeq, nil
}

// Read fetches up to limit records after the given sequence. The ordered
// consumer of a partition is reused while reads continue where the last
// one ended and is recreated when the caller rewinds.
func (s *JetStreamStream) Read(ctx context.Context, partition string, after uint64, limit int) ([]pipeline.Event, error) {
	if !s.known(partition) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}

	reader, err := s.reader(ctx, partition, after)
	if err != nil {
		return nil, err
	}

	batch, err := reader.consumer.Fetch(limit, jetstream.FetchMaxWait(s.fetchWait))
	if err != nil {
		s.dropReader(partition)
		return nil, fmt.Errorf("fetch %s: %w", s.subject(partition), err)
	}

	var events []pipeline.Event
	for msg := range batch.Messages() {
		md, err := msg.Metadata()
		if err != nil {
			s.dropReader(partition)
			return nil, fmt.Errorf("metadata %s: %w", s.subject(partition), err)
		}
		seq := md.Sequence.Stream
		events = append(events, pipeline.Event{
			Payload:   msg.Data(),
			Kind:      pipeline.KindStream,
			Handle:    pipeline.StreamHandle(partition, seq),
			Partition: partition,
			Sequence:  seq,
			ArrivedAt: md.Timestamp,
		})
		reader.next = seq + 1
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, jetstream.ErrNoMessages) {
		s.dropReader(partition)
		return nil, fmt.Errorf("fetch %s: %w", s.subject(partition), err)
	}
	return events, nil
}

func (s *JetStreamStream) reader(ctx context.Context, partition string, after uint64) (*orderedReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.readers[partition]; ok && r.next == after+1 {
		return r, nil
	}

	consumer, err := s.client.JetStream().OrderedConsumer(ctx, s.streamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.subject(partition)},
		DeliverPolicy:  jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:    after + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("ordered consumer %s: %w", s.subject(partition), err)
	}
	r := &orderedReader{consumer: consumer, next: after + 1}
	s.readers[partition] = r
	return r, nil
}

func (s *JetStreamStream) dropReader(partition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.readers, partition)
}

func (s *JetStreamStream) known(partition string) bool {
	for _, p := range s.partitions {
		if p == partition {
			return true
		}
	}
	return false
}
