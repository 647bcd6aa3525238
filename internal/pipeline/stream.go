package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/metrics"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// StreamRouter reads a partitioned log with exactly one reader per
// partition. The assignment table maps each known partition to its
// reader and is refreshed periodically so new partitions are picked up.
type StreamRouter struct {
	source    StreamSource
	invoker   Invoker
	metrics   *Metrics
	cfg       config.StreamConfig
	invokeCfg config.InvokeConfig

	mu          sync.Mutex
	assignments map[string]*partitionReader

	cancel    context.CancelFunc
	startTime time.Time
	wg        sync.WaitGroup

	newBackOff func() backoff.BackOff
}

func NewStreamRouter(source StreamSource, inv Invoker, metrics *Metrics, cfg config.StreamConfig, invokeCfg config.InvokeConfig) *StreamRouter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PartitionRefresh <= 0 {
		cfg.PartitionRefresh = 30 * time.Second
	}
	if cfg.StartingPosition == "" {
		cfg.StartingPosition = config.StartLatest
	}
	return &StreamRouter{
		source:      source,
		invoker:     inv,
		metrics:     metrics,
		cfg:         cfg,
		invokeCfg:   invokeCfg,
		assignments: make(map[string]*partitionReader),
		newBackOff:  newPollBackOff,
	}
}

// Start assigns readers to the partitions known now and keeps the
// assignment table current in the background.
func (r *StreamRouter) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.startTime = time.Now()

	logger.Get().Infow("starting stream router",
		"router", KindStream,
		"stream", r.cfg.Name,
		"starting_position", r.cfg.StartingPosition,
		"batch_size", r.cfg.BatchSize,
		"invoke_deadline", r.invokeCfg.Deadline,
	)

	if err := r.refresh(ctx); err != nil {
		logger.Get().Warnw("partition enumeration failed, will retry", "router", KindStream, "error", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.PartitionRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.refresh(ctx); err != nil && ctx.Err() == nil {
					r.metrics.IncPollError()
					logger.Get().Warnw("partition refresh failed", "router", KindStream, "error", err)
				}
			}
		}
	}()
}

// refresh starts a reader for every partition that has none.
func (r *StreamRouter) refresh(ctx context.Context) error {
	partitions, err := r.source.Partitions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return nil
	}
	for _, p := range partitions {
		if _, ok := r.assignments[p]; ok {
			continue
		}
		reader := &partitionReader{partition: p, router: r}
		r.assignments[p] = reader
		reader.start(ctx, &r.wg)
		logger.Get().Infow("partition assigned", "router", KindStream, "partition", p)
	}
	metrics.ActivePartitions.Set(float64(len(r.assignments)))
	return nil
}

// Shutdown stops all readers after their current invocation.
func (r *StreamRouter) Shutdown() {
	log := logger.Get().With("router", KindStream)
	log.Info("initiating graceful shutdown")

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	log.Info("all partition readers stopped, shutdown complete")
}

func (r *StreamRouter) Kind() SourceKind {
	return KindStream
}

func (r *StreamRouter) Metrics() *Metrics {
	return r.metrics
}

func (r *StreamRouter) StartTime() time.Time {
	return r.startTime
}

// Assignments lists the partitions that currently have a reader.
func (r *StreamRouter) Assignments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.assignments))
	for p := range r.assignments {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Cursor returns the sequence of the last record processed successfully
// on partition, and whether the partition has a positioned reader.
func (r *StreamRouter) Cursor(partition string) (uint64, bool) {
	r.mu.Lock()
	reader, ok := r.assignments[partition]
	r.mu.Unlock()
	if !ok || !reader.positioned.Load() {
		return 0, false
	}
	return reader.cursor.Load(), true
}
