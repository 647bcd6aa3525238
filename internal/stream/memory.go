// Package stream provides the partitioned, ordered log sources: an
// in-process log and a NATS JetStream stream with one subject per
// partition.
package stream

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
)

var ErrUnknownPartition = errors.New("unknown partition")

// PartitionID names partition i.
func PartitionID(i int) string {
	return fmt.Sprintf("shard-%04d", i)
}

// PartitionFor maps a partition key onto one of n partitions.
func PartitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// MemoryStream is an in-process partitioned log. Each partition numbers
// its records from 1. Records older than the retention window are
// dropped whether or not they were read.
type MemoryStream struct {
	name      string
	retention time.Duration
	now       func() time.Time

	mu         sync.Mutex
	order      []string
	partitions map[string]*partitionLog
}

type partitionLog struct {
	last    uint64
	records []record
}

type record struct {
	seq       uint64
	data      []byte
	arrivedAt time.Time
}

func NewMemoryStream(name string, partitions int, retention time.Duration) *MemoryStream {
	if partitions <= 0 {
		partitions = 1
	}
	s := &MemoryStream{
		name:       name,
		retention:  retention,
		now:        time.Now,
		partitions: make(map[string]*partitionLog, partitions),
	}
	for i := 0; i < partitions; i++ {
		id := PartitionID(i)
		s.order = append(s.order, id)
		s.partitions[id] = &partitionLog{}
	}
	return s
}

// SetClock replaces the clock used for arrival times and retention.
func (s *MemoryStream) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStream) Name() string {
	return s.name
}

// Put appends data to the partition chosen by partitionKey.
func (s *MemoryStream) Put(ctx context.Context, partitionKey string, data []byte) (string, uint64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.order[PartitionFor(partitionKey, len(s.order))]
	p := s.partitions[id]
	now := s.now()
	p.last++
	p.records = append(p.records, record{seq: p.last, data: append([]byte(nil), data...), arrivedAt: now})
	s.trimLocked(p, now)
	return id, p.last, nil
}

func (s *MemoryStream) Partitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// Latest returns the sequence of the newest record written to partition
// (0 if none). Reading after it yields only records written later.
func (s *MemoryStream) Latest(ctx context.Context, partition string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[partition]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	return p.last, nil
}

// Read returns up to limit retained records with sequence > after.
func (s *MemoryStream) Read(ctx context.Context, partition string, after uint64, limit int) ([]pipeline.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	s.trimLocked(p, s.now())

	var events []pipeline.Event
	for _, r := range p.records {
		if r.seq <= after {
			continue
		}
		if limit > 0 && len(events) == limit {
			break
		}
		events = append(events, pipeline.Event{
			Payload:   append([]byte(nil), r.data...),
			Kind:      pipeline.KindStream,
			Handle:    pipeline.StreamHandle(partition, r.seq),
			Partition: partition,
			Sequence:  r.seq,
			ArrivedAt: r.arrivedAt,
		})
	}
	return events, nil
}

// Len returns the number of retained records in partition.
func (s *MemoryStream) Len(partition string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[partition]; ok {
		return len(p.records)
	}
	return 0
}

func (s *MemoryStream) trimLocked(p *partitionLog, now time.Time) {
	if s.retention <= 0 {
		return
	}
	cutoff := now.Add(-s.retention)
	i := 0
	for i < len(p.records) && p.records[i].arrivedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.records = append([]record(nil), p.records[i:]...)
	}
}
