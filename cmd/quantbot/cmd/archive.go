package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/app"
	s3blob "github.com/alanyoungcy/quantbot/internal/blob/s3"
	"github.com/alanyoungcy/quantbot/internal/config"
	"github.com/alanyoungcy/quantbot/internal/domain"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and restore archived bot state",
}

var archiveListCmd = &cobra.Command{
	Use:   "ls <bot-id>",
	Short: "List the days archived for a bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, reader, cleanup, err := archiveDeps(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		days, err := s3blob.ArchivedDays(cmd.Context(), reader, cfg.S3.Prefix, args[0])
		if err != nil {
			return err
		}
		for _, d := range days {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore <bot-id>",
	Short: "Download one archived day of a bot into the state root",
	Long: `Restore the snapshot and logs archived for a bot on --day into
<state_dir>/<bot-id>. Stop the bot first; existing files are kept unless
--force is given.

Example:
  quantbot archive restore binance_BTCUSDT --day 2026-03-02`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := time.Parse(time.DateOnly, restoreDay)
		if err != nil {
			return fmt.Errorf("archive: --day: %w", err)
		}
		cfg, reader, cleanup, err := archiveDeps(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		dest := filepath.Join(cfg.Bot.StateDir, args[0])
		n, err := s3blob.Restore(cmd.Context(), reader, cfg.S3.Prefix, args[0], day, dest, restoreForce)
		if errors.Is(err, s3blob.ErrExists) {
			return fmt.Errorf("%w (use --force to replace)", err)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d files to %s\n", n, dest)
		return nil
	},
}

var (
	restoreDay   string
	restoreForce bool
)

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveListCmd, archiveRestoreCmd)

	archiveRestoreCmd.Flags().StringVar(&restoreDay, "day", "", "archived day, YYYY-MM-DD (required)")
	archiveRestoreCmd.Flags().BoolVar(&restoreForce, "force", false, "replace existing files")
	_ = archiveRestoreCmd.MarkFlagRequired("day")
}

func archiveDeps(cmd *cobra.Command) (*config.Config, domain.BlobReader, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if !cfg.S3.Enabled {
		return nil, nil, nil, errors.New("archive: s3 is not enabled")
	}
	deps, cleanup, err := app.Wire(cmd.Context(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, deps.BlobReader, cleanup, nil
}
