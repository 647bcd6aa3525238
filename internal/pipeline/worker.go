package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// Worker is one queue poller.
type Worker struct {
	id     int
	router *QueueRouter
	wg     *sync.WaitGroup
}

func (w *Worker) Start(ctx context.Context) {
	log := logger.Get().With("router", KindQueue, "worker", w.id)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		bo := w.router.newBackOff()
		for {
			if ctx.Err() != nil {
				log.Infow("worker exiting", "reason", "context cancelled")
				return
			}

			events, err := w.router.source.Receive(ctx, w.router.cfg.BatchSize, w.router.cfg.WaitTime)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.router.metrics.IncPollError()
				delay := bo.NextBackOff()
				log.Warnw("poll failed, backing off",
					"error", fmt.Errorf("%w: %w", ErrSourceUnavailable, err),
					"backoff", delay,
				)
				sleepCtx(ctx, delay)
				continue
			}
			bo.Reset()

			if len(events) == 0 && w.router.cfg.WaitTime <= 0 {
				sleepCtx(ctx, w.router.idleInterval)
				continue
			}

			// Messages already received are processed even during shutdown;
			// leaving them would only delay them by a visibility window.
			for _, ev := range events {
				w.processMessage(ctx, ev)
			}
		}
	}()
}

func (w *Worker) processMessage(ctx context.Context, ev Event) {
	log := logger.Get().With(
		"router", KindQueue,
		"worker", w.id,
		"handle", ev.Handle,
		"receive_count", ev.ReceiveCount,
	)

	w.router.metrics.IncReceived()
	res := deliver(ctx, w.router.invoker, ev, w.router.invokeCfg.MaxPayloadBytes, w.router.invokeCfg.Deadline)
	w.router.metrics.Observe(res)

	if !res.OK() {
		log.Warnw("invocation failed, message will be redelivered after visibility window",
			"result", res.Outcome.String(),
			"error", res.Err,
			"visibility_timeout", w.router.cfg.VisibilityTimeout,
		)
		return
	}

	if err := w.router.source.Delete(context.WithoutCancel(ctx), ev.Handle); err != nil {
		log.Errorw("delete failed, message may be delivered again", "error", err)
		return
	}
	log.Infow("message processed", "latency_ms", res.Duration.Milliseconds())
}
