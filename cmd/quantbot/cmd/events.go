package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/app"
	"github.com/alanyoungcy/quantbot/internal/cache/redis"
	"github.com/alanyoungcy/quantbot/internal/domain"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the shared bot event stream",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print events from the Redis stream as JSON lines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Redis.Enabled {
			return errors.New("events: redis is not enabled")
		}
		deps, cleanup, err := app.Wire(cmd.Context(), cfg, slog.New(slog.DiscardHandler))
		if err != nil {
			return err
		}
		defer cleanup()

		after, _ := cmd.Flags().GetString("after")
		limit, _ := cmd.Flags().GetInt("limit")
		follow, _ := cmd.Flags().GetBool("follow")
		poll, _ := cmd.Flags().GetDuration("poll")
		if limit <= 0 {
			return errors.New("events: --limit must be positive")
		}

		ctx := cmd.Context()
		if follow {
			var stop context.CancelFunc
			ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
		}
		_, err = tailEvents(ctx, deps.Bus, cmd.OutOrStdout(), after, limit, follow, poll)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

type streamReader interface {
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error)
}

type streamEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// tailEvents copies stream entries after `after` to w and returns the last
// ID written. With follow it keeps polling until ctx ends.
func tailEvents(ctx context.Context, bus streamReader, w io.Writer, after string, limit int, follow bool, poll time.Duration) (string, error) {
	if after == "" {
		after = "0"
	}
	enc := json.NewEncoder(w)
	for {
		msgs, err := bus.StreamRead(ctx, redis.StreamEvents, after, limit)
		if err != nil {
			return after, err
		}
		for _, m := range msgs {
			entry := streamEntry{ID: m.ID, Event: m.Payload}
			if !json.Valid(m.Payload) {
				raw, _ := json.Marshal(string(m.Payload))
				entry.Event = raw
			}
			if err := enc.Encode(entry); err != nil {
				return after, fmt.Errorf("events: write: %w", err)
			}
			after = m.ID
		}
		if !follow {
			return after, nil
		}
		if len(msgs) == limit {
			continue
		}
		select {
		case <-ctx.Done():
			return after, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
	eventsTailCmd.Flags().String("after", "0", "stream ID to start after")
	eventsTailCmd.Flags().Int("limit", 100, "entries per read")
	eventsTailCmd.Flags().BoolP("follow", "f", false, "keep polling for new events")
	eventsTailCmd.Flags().Duration("poll", time.Second, "poll interval with --follow")
}
