package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/api"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/processor"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run both routers, the processor and the HTTP endpoints in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.Get()

			c := &components{}
			defer c.close()

			var proc *processor.Processor
			if cfg.Invoke.URL == "" {
				p, err := c.buildProcessor(ctx)
				if err != nil {
					return fmt.Errorf("processor: %w", err)
				}
				proc = p
			}
			inv, err := invoker(proc)
			if err != nil {
				return err
			}

			srv := api.NewServer(nil)
			if proc != nil {
				srv.Processor = proc
			}

			if cfg.Queue.Enabled {
				q, err := c.buildQueue(ctx)
				if err != nil {
					return fmt.Errorf("queue: %w", err)
				}
				r := pipeline.NewQueueRouter(q, inv, pipeline.NewMetrics(pipeline.KindQueue), cfg.Queue, cfg.Invoke)
				r.Start(ctx)
				defer r.Shutdown()
				srv.Queue = q
				srv.Routers = append(srv.Routers, r)
			}

			if cfg.Stream.Enabled {
				s, err := c.buildStream(ctx)
				if err != nil {
					return fmt.Errorf("stream: %w", err)
				}
				r := pipeline.NewStreamRouter(s, inv, pipeline.NewMetrics(pipeline.KindStream), cfg.Stream, cfg.Invoke)
				r.Start(ctx)
				defer r.Shutdown()
				srv.Stream = s
				srv.Routers = append(srv.Routers, r)
			}

			c.healthChecks(srv)
			err = serveHTTP(ctx, srv)
			log.Info("service stopping")
			return err
		},
	}
}

func newProcessorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "processor",
		Short: "Serve the event processor on POST /invoke",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c := &components{}
			defer c.close()

			proc, err := c.buildProcessor(ctx)
			if err != nil {
				return fmt.Errorf("processor: %w", err)
			}

			srv := api.NewServer(proc)
			c.healthChecks(srv)
			return serveHTTP(ctx, srv)
		},
	}
}

func newRouterCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "router [queue|stream]",
		Short:     "Run one router that invokes a remote processor at invoke.url",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(pipeline.KindQueue), string(pipeline.KindStream)},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c := &components{}
			defer c.close()

			inv, err := invoker(nil)
			if err != nil {
				return err
			}

			srv := api.NewServer(nil)
			var router pipeline.Router
			switch pipeline.SourceKind(args[0]) {
			case pipeline.KindQueue:
				q, err := c.buildQueue(ctx)
				if err != nil {
					return fmt.Errorf("queue: %w", err)
				}
				router = pipeline.NewQueueRouter(q, inv, pipeline.NewMetrics(pipeline.KindQueue), cfg.Queue, cfg.Invoke)
				srv.Queue = q
			case pipeline.KindStream:
				s, err := c.buildStream(ctx)
				if err != nil {
					return fmt.Errorf("stream: %w", err)
				}
				router = pipeline.NewStreamRouter(s, inv, pipeline.NewMetrics(pipeline.KindStream), cfg.Stream, cfg.Invoke)
				srv.Stream = s
			}

			router.Start(ctx)
			defer router.Shutdown()

			srv.Routers = []pipeline.Router{router}
			c.healthChecks(srv)
			return serveHTTP(ctx, srv)
		},
	}
}
