package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/ledger"
	"github.com/alanyoungcy/quantbot/internal/statestore"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild a bot's position from its fill log",
	Long: `Replay the fill log of one bot from an empty position and compare the
result with the last saved snapshot. The bot is named by venue, symbol and
account tag, defaulting to the config's bot section.

Example:
  quantbot replay -c config.toml --symbol ETHUSDT`,
	RunE: runReplay,
}

var (
	replayVenue   string
	replaySymbol  string
	replayAccount string
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayVenue, "venue", "", "venue (default from config)")
	replayCmd.Flags().StringVar(&replaySymbol, "symbol", "", "symbol (default from config)")
	replayCmd.Flags().StringVar(&replayAccount, "account", "", "account tag (default from config)")
}

type replayResult struct {
	BotID            string           `json:"bot_id"`
	Fills            int              `json:"fills"`
	Position         domain.Position  `json:"position"`
	SnapshotPosition *domain.Position `json:"snapshot_position,omitempty"`
	Matches          *bool            `json:"matches,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	override(&cfg.Bot.Venue, replayVenue)
	override(&cfg.Bot.Symbol, replaySymbol)
	override(&cfg.Bot.AccountTag, replayAccount)

	key := domain.BotKey(cfg.Bot.Venue, cfg.Bot.Symbol, cfg.Bot.AccountTag)
	if _, err := os.Stat(filepath.Join(cfg.Bot.StateDir, key)); err != nil {
		return fmt.Errorf("replay: no state for %s under %s: %w", key, cfg.Bot.StateDir, err)
	}
	store, err := statestore.New(cfg.Bot.StateDir, key, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}

	fills, err := store.ReadFills()
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("replay: read fills: %w", err)
	}
	pos, _, err := ledger.Replay(fills)
	if err != nil {
		return err
	}

	res := replayResult{BotID: key, Fills: len(fills)}
	snap, err := store.LoadSnapshot()
	switch {
	case err == nil:
		pos = ledger.Mark(pos, snap.Market.MarkPrice())
		res.SnapshotPosition = &snap.Position
		ok := samePosition(pos, snap.Position)
		res.Matches = &ok
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("replay: read snapshot: %w", err)
	}
	res.Position = pos

	return printJSON(cmd.OutOrStdout(), res)
}

// samePosition compares the fields the fill log determines.
func samePosition(a, b domain.Position) bool {
	const eps = 1e-9
	near := func(x, y float64) bool { return x-y < eps && y-x < eps }
	return near(a.Qty, b.Qty) &&
		near(a.AvgCost, b.AvgCost) &&
		near(a.Realized, b.Realized) &&
		near(a.FeesPaid, b.FeesPaid) &&
		a.FillCount == b.FillCount
}
