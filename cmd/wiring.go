package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/api"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/cache"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/messaging"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/processor"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/queue"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/storage"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/stream"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/validator"
)

type queueBackend interface {
	pipeline.QueueSource
	api.QueueProducer
}

type streamBackend interface {
	pipeline.StreamSource
	api.StreamProducer
}

// components tracks what a command built so it can be torn down in
// reverse order.
type components struct {
	nats    *messaging.Client
	cache   *cache.Redis
	closers []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (c *components) natsClient() (*messaging.Client, error) {
	if c.nats != nil {
		return c.nats, nil
	}
	nc, err := messaging.Connect(messaging.ConfigFrom(cfg.NATS))
	if err != nil {
		return nil, err
	}
	c.nats = nc
	c.closers = append(c.closers, func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	})
	return nc, nil
}

func (c *components) buildProcessor(ctx context.Context) (*processor.Processor, error) {
	rc, err := cache.NewRedis(cache.Config{
		Addr:        cfg.CacheAddr(),
		Password:    cfg.Cache.Password,
		DB:          cfg.Cache.DB,
		DialTimeout: cfg.Cache.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	c.cache = rc
	c.closers = append(c.closers, func() { _ = rc.Close() })
	logger.Get().Infow("cache connected", "addr", cfg.CacheAddr())

	sink, err := c.buildSink(ctx)
	if err != nil {
		return nil, err
	}

	opts := processor.OptionsFrom(cfg.Processor)
	logger.Get().Infow("processor configured",
		"dedup_windows", len(opts.DedupWindows),
		"max_attempts", opts.MaxAttempts,
		"cache_failure_policy", opts.CachePolicy,
		"failure_sink", cfg.Processor.FailureSink,
	)
	return processor.New(rc, &validator.BasicValidator{}, sink, opts), nil
}

func (c *components) buildSink(ctx context.Context) (processor.FailureSink, error) {
	switch cfg.Processor.FailureSink {
	case config.SinkMySQL:
		store, err := storage.NewMySQLStorage(cfg.DSN())
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = store.Close() })
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		return store, nil
	case config.SinkJetStream:
		nc, err := c.natsClient()
		if err != nil {
			return nil, err
		}
		return storage.NewJetStreamSink(ctx, nc, cfg.NATS.SinkSubject)
	default:
		return storage.LogSink{}, nil
	}
}

func (c *components) buildQueue(ctx context.Context) (queueBackend, error) {
	if cfg.Queue.Backend != config.BackendJetStream {
		return queue.NewMemoryQueue(cfg.Queue.Name, cfg.Queue.VisibilityTimeout), nil
	}
	nc, err := c.natsClient()
	if err != nil {
		return nil, err
	}
	return queue.NewJetStreamQueue(ctx, nc, cfg.Queue.Name, cfg.Queue.VisibilityTimeout, cfg.Queue.Concurrency*cfg.Queue.BatchSize)
}

func (c *components) buildStream(ctx context.Context) (streamBackend, error) {
	if cfg.Stream.Backend != config.BackendJetStream {
		return stream.NewMemoryStream(cfg.Stream.Name, cfg.Stream.Partitions, cfg.Stream.Retention), nil
	}
	nc, err := c.natsClient()
	if err != nil {
		return nil, err
	}
	return stream.NewJetStreamStream(ctx, nc, cfg.Stream.Name, cfg.Stream.Partitions, cfg.Stream.Retention, cfg.Stream.PollInterval)
}

// invoker calls the processor over HTTP when invoke.url is set and in
// process otherwise.
func invoker(proc *processor.Processor) (pipeline.Invoker, error) {
	if cfg.Invoke.URL != "" {
		return pipeline.NewHTTPInvoker(cfg.Invoke.URL, &http.Client{}), nil
	}
	if proc == nil {
		return nil, errors.New("invoke.url is required when the processor runs elsewhere")
	}
	return pipeline.InvokerFunc(proc.Handle), nil
}

func (c *components) healthChecks(srv *api.Server) {
	if c.cache != nil {
		srv.Checks["cache"] = c.cache.Ping
	}
	if c.nats != nil {
		nc := c.nats
		srv.Checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
}

// serveHTTP runs srv until ctx is done, then shuts it down.
func serveHTTP(ctx context.Context, srv *api.Server) error {
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Get().Infow("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Get().Info("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Get().Errorw("server shutdown error", "error", err)
	}
	return nil
}
