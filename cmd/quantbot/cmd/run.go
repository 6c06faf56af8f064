package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/app"
	"github.com/alanyoungcy/quantbot/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one trading bot until interrupted",
	Long: `Run the bot described by the config. Flags override the bot section.

Live and demo orders reach the venue only with bot.trading_enabled = true;
otherwise every mode runs on the paper simulator.

Example:
  quantbot run -c config.toml --symbol ETHUSDT --mode paper`,
	RunE: runRun,
}

var (
	runVenue   string
	runSymbol  string
	runMode    string
	runAccount string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runVenue, "venue", "", "venue override (binance, binance_futures, demo)")
	runCmd.Flags().StringVar(&runSymbol, "symbol", "", "symbol override")
	runCmd.Flags().StringVar(&runMode, "mode", "", "mode override (paper, live, demo)")
	runCmd.Flags().StringVar(&runAccount, "account", "", "account tag override")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config %q: %w", cfgFile, err)
	}
	override(&cfg.Bot.Venue, runVenue)
	override(&cfg.Bot.Symbol, runSymbol)
	override(&cfg.Bot.Mode, runMode)
	override(&cfg.Bot.AccountTag, runAccount)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("quantbot starting",
		slog.String("venue", cfg.Bot.Venue),
		slog.String("symbol", cfg.Bot.Symbol),
		slog.String("mode", cfg.Bot.Mode),
		slog.String("config", cfgFile),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return finish(logger, application.Run(ctx))
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// finish logs the process outcome; context.Canceled is a clean shutdown.
func finish(logger *slog.Logger, err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return err
	}
	logger.Info("quantbot stopped")
	return nil
}
