package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// mirrorTimeout bounds the whole best-effort fan-out of one cycle.
const mirrorTimeout = 3 * time.Second

// mirror copies what the cycle just persisted to the optional stores. The
// local logs are already durable, so every failure here is only logged.
func (b *Bot) mirror(ctx context.Context, st domain.BotState, fill *domain.Fill, events []domain.Event, point domain.EquityPoint, equityChanged bool) {
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	for _, m := range b.deps.Mirrors {
		if fill != nil {
			if err := m.RecordFill(ctx, *fill); err != nil {
				b.mirrorFailed(ctx, "fill", err)
			}
		}
		if equityChanged {
			if err := m.RecordEquity(ctx, point); err != nil {
				b.mirrorFailed(ctx, "equity", err)
			}
		}
	}
	b.mirrorEvents(ctx, events)

	if b.deps.Prices != nil {
		if price := st.Market.MarkPrice(); price > 0 {
			if err := b.deps.Prices.SetPrice(ctx, st.Symbol, price, st.UpdatedAt); err != nil {
				b.mirrorFailed(ctx, "price", err)
			}
		}
	}
	for _, p := range b.deps.Publishers {
		if err := p.PublishState(ctx, st); err != nil {
			b.mirrorFailed(ctx, "state", err)
		}
	}
}

func (b *Bot) mirrorEvents(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	for _, m := range b.deps.Mirrors {
		for _, e := range events {
			if err := m.RecordEvent(ctx, e); err != nil {
				b.mirrorFailed(ctx, "event", err)
			}
		}
	}
	for _, p := range b.deps.Publishers {
		for _, e := range events {
			if err := p.PublishEvent(ctx, e); err != nil {
				b.mirrorFailed(ctx, "event", err)
			}
		}
	}
}

func (b *Bot) mirrorFailed(ctx context.Context, what string, err error) {
	b.logger.WarnContext(ctx, "mirror failed",
		slog.String("kind", what),
		slog.String("error", err.Error()),
	)
}
