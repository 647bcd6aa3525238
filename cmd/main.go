package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipes",
		Short:         "Route queue and stream events into a deduplicating processor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = loaded

			logger.Init(cfg.Logging.Mode == "prod", cfg.Logging.Level)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./pipes.yaml or /etc/pipes/pipes.yaml)")

	root.AddCommand(newRunCmd(), newProcessorCmd(), newRouterCmd(), newSendCmd())
	return root
}
