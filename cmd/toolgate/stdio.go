package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/toolgate/internal/app"
	"github.com/bobmcallan/toolgate/internal/rpc"
)

func newStdioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve the tool catalog over newline-delimited JSON-RPC on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE:  runStdio,
	}

	cmd.Flags().Int("concurrency", 16, "Maximum tool calls handled at once")

	return cmd
}

func runStdio(cmd *cobra.Command, _ []string) error {
	cfg, files, err := loadConfig(cmd)
	if err != nil {
		return exitError(2, "failed to load configuration: %v", err)
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	logger := setupLogger(cfg)
	logger.Info().
		Str("upstream", cfg.Upstream.BaseURL).
		Str("config_files", describeFiles(files)).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		return exitError(1, "failed to initialize application: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("application shutdown failed")
		}
	}()

	return application.RPC.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), rpc.WithConcurrency(concurrency))
}
