package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
)

// fakeStream is a minimal partitioned log keyed by partition name.
type fakeStream struct {
	mu         sync.Mutex
	order      []string
	records    map[string][]Event
	failLatest int
}

func newFakeStream(partitions ...string) *fakeStream {
	s := &fakeStream{records: make(map[string][]Event)}
	for _, p := range partitions {
		s.addPartition(p)
	}
	return s
}

func (s *fakeStream) addPartition(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, p)
	s.records[p] = nil
}

func (s *fakeStream) put(partition, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := uint64(len(s.records[partition]) + 1)
	s.records[partition] = append(s.records[partition], Event{
		Payload:   []byte(body),
		Kind:      KindStream,
		Handle:    StreamHandle(partition, seq),
		Partition: partition,
		Sequence:  seq,
	})
}

func (s *fakeStream) Partitions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *fakeStream) Latest(ctx context.Context, partition string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLatest > 0 {
		s.failLatest--
		return 0, errors.New("stream unavailable")
	}
	return uint64(len(s.records[partition])), nil
}

func (s *fakeStream) Read(ctx context.Context, partition string, after uint64, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.records[partition] {
		if ev.Sequence <= after {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

// recorder collects invoked bodies in call order.
type recorder struct {
	mu     sync.Mutex
	bodies []string
	fail   func(body string, attempt int) error
	seen   map[string]int
}

func (r *recorder) Invoke(ctx context.Context, msg TransformedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]int)
	}
	r.seen[msg.Body]++
	r.bodies = append(r.bodies, msg.Body)
	if r.fail != nil {
		return r.fail(msg.Body, r.seen[msg.Body])
	}
	return nil
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies...)
}

func newTestStreamRouter(src StreamSource, inv Invoker, start string) *StreamRouter {
	r := NewStreamRouter(src, inv, NewMetrics(KindStream),
		config.StreamConfig{
			Name:             "test-stream",
			StartingPosition: start,
			BatchSize:        10,
			PollInterval:     5 * time.Millisecond,
			RetryDelay:       5 * time.Millisecond,
			PartitionRefresh: 10 * time.Millisecond,
		},
		config.InvokeConfig{Deadline: time.Second, MaxPayloadBytes: DefaultMaxPayloadBytes},
	)
	r.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return r
}

func TestStreamRouter_PreservesOrderWithinPartition(t *testing.T) {
	src := newFakeStream("p0", "p1")
	for i := 1; i <= 5; i++ {
		src.put("p0", fmt.Sprintf("p0-%d", i))
		src.put("p1", fmt.Sprintf("p1-%d", i))
	}

	rec := &recorder{}
	r := newTestStreamRouter(src, rec, config.StartTrimHorizon)
	r.Start(context.Background())
	defer r.Shutdown()

	require.Eventually(t, func() bool { return len(rec.calls()) == 10 }, 2*time.Second, 5*time.Millisecond)

	var p0, p1 []string
	for _, b := range rec.calls() {
		if b[:2] == "p0" {
			p0 = append(p0, b)
		} else {
			p1 = append(p1, b)
		}
	}
	assert.Equal(t, []string{"p0-1", "p0-2", "p0-3", "p0-4", "p0-5"}, p0)
	assert.Equal(t, []string{"p1-1", "p1-2", "p1-3", "p1-4", "p1-5"}, p1)

	cursor, ok := r.Cursor("p0")
	assert.True(t, ok)
	assert.Equal(t, uint64(5), cursor)
}

func TestStreamRouter_FailureRereadsRecordAndSuccessors(t *testing.T) {
	src := newFakeStream("p0")
	src.put("p0", "r1")
	src.put("p0", "r2")
	src.put("p0", "r3")

	rec := &recorder{fail: func(body string, attempt int) error {
		if body == "r2" && attempt == 1 {
			return errors.New("transient")
		}
		return nil
	}}
	r := newTestStreamRouter(src, rec, config.StartTrimHorizon)
	r.Start(context.Background())
	defer r.Shutdown()

	require.Eventually(t, func() bool {
		c, _ := r.Cursor("p0")
		return c == 3
	}, 2*time.Second, 5*time.Millisecond)

	// r1 is not re-invoked; r2 is retried before r3 is ever seen.
	assert.Equal(t, []string{"r1", "r2", "r2", "r3"}, rec.calls())
	assert.Equal(t, uint64(1), r.Metrics().GetFailed())
	assert.Equal(t, uint64(3), r.Metrics().GetProcessed())
}

func TestStreamRouter_TimeoutDoesNotAdvanceCursor(t *testing.T) {
	src := newFakeStream("p0")
	src.put("p0", "slow")

	var mu sync.Mutex
	attempts := 0
	inv := InvokerFunc(func(ctx context.Context, msg TransformedMessage) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	r := newTestStreamRouter(src, inv, config.StartTrimHorizon)
	r.invokeCfg.Deadline = 20 * time.Millisecond
	r.Start(context.Background())
	defer r.Shutdown()

	require.Eventually(t, func() bool {
		c, _ := r.Cursor("p0")
		return c == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), r.Metrics().GetTimeouts())
}

func TestStreamRouter_LatestSkipsBacklog(t *testing.T) {
	src := newFakeStream("p0")
	src.put("p0", "old-1")
	src.put("p0", "old-2")

	rec := &recorder{}
	r := newTestStreamRouter(src, rec, config.StartLatest)
	r.Start(context.Background())
	defer r.Shutdown()

	require.Eventually(t, func() bool {
		_, ok := r.Cursor("p0")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	src.put("p0", "new-3")
	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"new-3"}, rec.calls())
}

func TestStreamRouter_RetriesPositioningWhenSourceUnavailable(t *testing.T) {
	src := newFakeStream("p0")
	src.failLatest = 2

	r := newTestStreamRouter(src, &recorder{}, config.StartLatest)
	r.Start(context.Background())
	defer r.Shutdown()

	require.Eventually(t, func() bool {
		_, ok := r.Cursor("p0")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), r.Metrics().GetPollErrors())
}

func TestStreamRouter_AssignsNewPartitions(t *testing.T) {
	src := newFakeStream("p0")

	rec := &recorder{}
	r := newTestStreamRouter(src, rec, config.StartTrimHorizon)
	r.Start(context.Background())
	defer r.Shutdown()

	assert.Equal(t, []string{"p0"}, r.Assignments())

	src.addPartition("p1")
	src.put("p1", "late-partition")

	require.Eventually(t, func() bool { return len(r.Assignments()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"p0", "p1"}, r.Assignments())
}
