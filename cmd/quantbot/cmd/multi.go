package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/fleet"
)

var multiCmd = &cobra.Command{
	Use:   "multi <fleet.yaml>",
	Short: "Run several bots, one process per symbol",
	Long: `Launch one "quantbot run" child process per bot symbol listed in a YAML
fleet file. Children share the fleet's base config and receive their
overrides as QUANTBOT_* environment variables. SIGINT or SIGTERM stops every
child, killing any that outlive the stop grace.

Example fleet.yaml:
  config: config.toml
  bots:
    - venue: binance_futures
      symbols: [BTCUSDT, ETHUSDT]
      account_tag: main`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := fleet.Load(args[0])
		if err != nil {
			return err
		}
		children, err := f.Children()
		if err != nil {
			return err
		}
		grace, err := f.Grace()
		if err != nil {
			return err
		}
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("multi: locate executable: %w", err)
		}

		base := f.Config
		if cfgFile != "" {
			base = cfgFile
		}
		childArgs := []string{"run"}
		if base != "" {
			childArgs = append(childArgs, "--config", base)
		}

		logger := newLogger(os.Getenv("QUANTBOT_LOG_LEVEL"))
		logger.Info("launching fleet", slog.Int("bots", len(children)), slog.String("config", base))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return fleet.NewRunner(exe, childArgs, grace, logger).Run(ctx, children)
	},
}

func init() {
	rootCmd.AddCommand(multiCmd)
}
