package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// partitionReader is the single reader of one stream partition. The
// cursor only moves past a record once its invocation succeeded.
type partitionReader struct {
	partition  string
	router     *StreamRouter
	cursor     atomic.Uint64
	positioned atomic.Bool
}

func (p *partitionReader) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.run(ctx)
	}()
}

func (p *partitionReader) run(ctx context.Context) {
	r := p.router
	log := logger.Get().With("router", KindStream, "partition", p.partition)
	bo := r.newBackOff()

	for !p.positioned.Load() {
		if ctx.Err() != nil {
			return
		}
		if err := p.position(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.metrics.IncPollError()
			delay := bo.NextBackOff()
			log.Warnw("positioning reader failed, backing off", "error", err, "backoff", delay)
			sleepCtx(ctx, delay)
		}
	}
	bo.Reset()
	log.Infow("reader positioned", "cursor", p.cursor.Load(), "starting_position", r.cfg.StartingPosition)

	for ctx.Err() == nil {
		events, err := r.source.Read(ctx, p.partition, p.cursor.Load(), r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.metrics.IncPollError()
			delay := bo.NextBackOff()
			log.Warnw("read failed, backing off",
				"error", fmt.Errorf("%w: %w", ErrSourceUnavailable, err),
				"backoff", delay,
			)
			sleepCtx(ctx, delay)
			continue
		}
		bo.Reset()

		if len(events) == 0 {
			sleepCtx(ctx, r.cfg.PollInterval)
			continue
		}

		batch := Batch{Kind: KindStream, Partition: p.partition, Events: events}
		if !p.processBatch(ctx, batch) {
			sleepCtx(ctx, r.cfg.RetryDelay)
		}
	}
	log.Infow("reader exiting", "reason", "context cancelled", "cursor", p.cursor.Load())
}

func (p *partitionReader) position(ctx context.Context) error {
	if p.router.cfg.StartingPosition == config.StartTrimHorizon {
		p.cursor.Store(0)
		p.positioned.Store(true)
		return nil
	}
	latest, err := p.router.source.Latest(ctx, p.partition)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	p.cursor.Store(latest)
	p.positioned.Store(true)
	return nil
}

// processBatch invokes records in log order and stops at the first
// failure, leaving the cursor on the last success so the failed record
// and everything after it are read again. It reports whether the whole
// batch succeeded.
func (p *partitionReader) processBatch(ctx context.Context, batch Batch) bool {
	r := p.router
	for _, ev := range batch.Events {
		if ctx.Err() != nil {
			return true
		}
		if ev.Sequence <= p.cursor.Load() {
			continue
		}

		r.metrics.IncReceived()
		res := deliver(ctx, r.invoker, ev, r.invokeCfg.MaxPayloadBytes, r.invokeCfg.Deadline)
		r.metrics.Observe(res)

		if !res.OK() {
			logger.Get().Warnw("invocation failed, record will be re-read",
				"router", KindStream,
				"partition", p.partition,
				"sequence", ev.Sequence,
				"result", res.Outcome.String(),
				"error", res.Err,
				"batch_size", batch.Len(),
			)
			return false
		}
		p.cursor.Store(ev.Sequence)
		logger.Get().Debugw("record processed",
			"router", KindStream,
			"partition", p.partition,
			"sequence", ev.Sequence,
			"latency_ms", res.Duration.Milliseconds(),
		)
	}
	return true
}
