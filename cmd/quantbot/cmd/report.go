package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/app"
	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/ledger"
)

const defaultDuration = 30 * time.Second

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize realized performance from the fill journal",
	Long: `Replay fills per bot and print the realized trade summary (win rate,
profit factor, fees) and daily PnL. Fills come from Postgres, SQLite or the
JSONL logs under the state root, whichever is configured first.

Example:
  quantbot report --account main --from 2026-01-01 --trades`,
	RunE: runReport,
}

var (
	reportAccount string
	reportVenue   string
	reportSymbol  string
	reportFrom    string
	reportTo      string
	reportTZ      string
	reportTrades  bool
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportAccount, "account", "", "account tag filter")
	reportCmd.Flags().StringVar(&reportVenue, "venue", "", "venue filter")
	reportCmd.Flags().StringVar(&reportSymbol, "symbol", "", "symbol filter")
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "first day, YYYY-MM-DD")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "last day (inclusive), YYYY-MM-DD")
	reportCmd.Flags().StringVar(&reportTZ, "tz", "UTC", "time zone for daily buckets")
	reportCmd.Flags().BoolVar(&reportTrades, "trades", false, "include every realized trade")
}

type reportOutput struct {
	Summary ledger.Summary  `json:"summary"`
	Daily   []ledger.DayPnL `json:"daily"`
	Trades  []ledger.Trade  `json:"trades,omitempty"`
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(reportTZ)
	if err != nil {
		return fmt.Errorf("report: tz: %w", err)
	}
	filter := domain.Filter{AccountTag: reportAccount, Venue: reportVenue, Symbol: reportSymbol}
	if reportFrom != "" {
		t, err := time.ParseInLocation(time.DateOnly, reportFrom, loc)
		if err != nil {
			return fmt.Errorf("report: from: %w", err)
		}
		filter.Since = &t
	}
	if reportTo != "" {
		t, err := time.ParseInLocation(time.DateOnly, reportTo, loc)
		if err != nil {
			return fmt.Errorf("report: to: %w", err)
		}
		t = t.AddDate(0, 0, 1)
		filter.Until = &t
	}

	// Reports go to stdout; keep the logger quiet unless debugging.
	logger := newLogger(cfg.LogLevel)
	if cfg.LogLevel != "debug" {
		logger = slog.New(slog.DiscardHandler)
	}
	deps, cleanup, err := app.Wire(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	fills, err := deps.Journal.ListFills(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("report: list fills: %w", err)
	}

	trades, summary := ledger.Report(fills)
	out := reportOutput{Summary: summary, Daily: ledger.Daily(fills, loc)}
	if reportTrades {
		out.Trades = trades
	}
	return printJSON(cmd.OutOrStdout(), out)
}
