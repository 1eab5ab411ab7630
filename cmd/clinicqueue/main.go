package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"clinicqueue/internal/config"
	"clinicqueue/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)

	root := &cobra.Command{
		Use:           "clinicqueue",
		Short:         "Hospital patient queue service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCommand(cfg, logger),
		migrateCommand(cfg, logger),
		relayCommand(cfg, logger),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("command failed")
		cancel()
		os.Exit(1)
	}
}
