package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-side API over the state root and journal",
	Long: `Serve the HTTP and websocket API without trading. Snapshots come from
the state root (or Redis when events are published there), fills and equity
from Postgres, SQLite or the JSONL logs, whichever is configured first.

The archive pipeline also runs here when enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Server.Enabled = true

		logger := newLogger(cfg.LogLevel)
		logger.Info("quantbot serve starting",
			slog.Int("port", cfg.Server.Port),
			slog.String("state_dir", cfg.Bot.StateDir),
		)

		application := app.New(cfg, logger)
		defer application.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return finish(logger, application.Serve(ctx))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
