package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/globalrisk"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Print the global exposure across all bot snapshots",
	Long: `Aggregate the fresh snapshots under the state root into per-account and
total exposure. Snapshots older than --max-age are ignored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		maxAge := cfg.Bot.GlobalMaxAge.Duration
		if cmd.Flags().Changed("max-age") {
			maxAge = riskMaxAge
		}

		agg := globalrisk.New(globalrisk.FromStateRoot(cfg.Bot.StateDir), newLogger(cfg.LogLevel))
		if riskAccount != "" {
			row, err := agg.Account(cmd.Context(), riskAccount, maxAge)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		}
		g, err := agg.Summary(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), g)
	},
}

var (
	riskAccount string
	riskMaxAge  = defaultDuration
)

func init() {
	rootCmd.AddCommand(riskCmd)

	riskCmd.Flags().StringVar(&riskAccount, "account", "", "print only this account tag")
	riskCmd.Flags().DurationVar(&riskMaxAge, "max-age", defaultDuration, "ignore snapshots older than this (default from config)")
}
