package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// Router is the lifecycle shared by the queue and stream routers.
type Router interface {
	Start(ctx context.Context)
	Shutdown()
	Kind() SourceKind
	Metrics() *Metrics
}

// QueueRouter polls an at-least-once queue with a pool of workers. Each
// message is transformed and invoked; it is deleted only on success and
// otherwise left to reappear after the queue's visibility window.
type QueueRouter struct {
	source     QueueSource
	invoker    Invoker
	metrics    *Metrics
	cfg        config.QueueConfig
	invokeCfg  config.InvokeConfig
	workerPool []*Worker
	cancel     context.CancelFunc
	startTime  time.Time
	wg         sync.WaitGroup

	newBackOff func() backoff.BackOff

	// idleInterval spaces out polls that return nothing when the source
	// does not long-poll (WaitTime 0).
	idleInterval time.Duration
}

// DefaultIdleInterval is the pause after an empty short poll.
const DefaultIdleInterval = time.Second

func NewQueueRouter(source QueueSource, inv Invoker, metrics *Metrics, cfg config.QueueConfig, invokeCfg config.InvokeConfig) *QueueRouter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &QueueRouter{
		source:       source,
		invoker:      inv,
		metrics:      metrics,
		cfg:          cfg,
		invokeCfg:    invokeCfg,
		newBackOff:   newPollBackOff,
		idleInterval: DefaultIdleInterval,
	}
}

// Start launches the pollers. It returns immediately.
func (r *QueueRouter) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.startTime = time.Now()

	log := logger.Get().With("router", KindQueue)
	log.Infow("starting queue router",
		"queue", r.cfg.Name,
		"workers", r.cfg.Concurrency,
		"batch_size", r.cfg.BatchSize,
		"visibility_timeout", r.cfg.VisibilityTimeout,
		"invoke_deadline", r.invokeCfg.Deadline,
	)

	for i := 0; i < r.cfg.Concurrency; i++ {
		w := &Worker{
			id:     i + 1,
			router: r,
			wg:     &r.wg,
		}
		r.workerPool = append(r.workerPool, w)
		w.Start(ctx)
		log.Debugw("worker started", "worker_id", w.id)
	}

	log.Infow("queue router started", "worker_count", r.cfg.Concurrency)
}

// Shutdown stops polling and waits for in-flight invocations.
func (r *QueueRouter) Shutdown() {
	log := logger.Get().With("router", KindQueue)
	log.Info("initiating graceful shutdown")

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	log.Info("all queue workers stopped, shutdown complete")
}

func (r *QueueRouter) Kind() SourceKind {
	return KindQueue
}

func (r *QueueRouter) Metrics() *Metrics {
	return r.metrics
}

func (r *QueueRouter) WorkerCount() int {
	return len(r.workerPool)
}

func (r *QueueRouter) StartTime() time.Time {
	return r.startTime
}

func newPollBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
