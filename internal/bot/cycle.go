package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/id"
	"github.com/alanyoungcy/quantbot/internal/ledger"
	"github.com/alanyoungcy/quantbot/internal/risk"
	"github.com/alanyoungcy/quantbot/internal/strategy"
)

// Cycle runs one full pass. A market data failure ends the cycle early
// with a recoverable error; a persistence failure is returned wrapped in
// domain.ErrPersistence and must stop the bot.
func (b *Bot) Cycle(ctx context.Context) error {
	now := b.now()
	res, err := b.deps.View.Refresh(ctx)
	if err != nil {
		b.flushPending(ctx)
		return fmt.Errorf("bot: market view: %w", err)
	}
	snap := res.Snapshot
	price := snap.MarkPrice()

	b.mu.RLock()
	pos := b.state.Position
	b.mu.RUnlock()
	pos = ledger.Mark(pos, price)

	var news float64
	if b.deps.News != nil {
		news = b.deps.News(now)
	}
	sig := b.deps.Generator.Generate(strategy.Input{
		Market:     snap,
		Flow:       res.Flow,
		Pressure:   res.Pressure,
		NewsScore:  news,
		Now:        now,
		InPosition: !pos.IsFlat(),
	})

	equity, err := b.deps.Equity(ctx, pos)
	if err != nil {
		b.logger.WarnContext(ctx, "equity unavailable", slog.String("error", err.Error()))
		equity = b.lastEquity
	}
	b.rollDay(now, equity)

	in := risk.Input{
		Position:         pos,
		Signal:           sig,
		Price:            price,
		Equity:           equity,
		DayStartEquity:   b.dayStart,
		IntendedNotional: b.intendedNotional(equity),
	}
	in.Account, in.Global = b.exposure(ctx, equity, pos.AbsNotional(price))

	d := b.deps.Risk.Evaluate(in)
	d, blocked := b.deps.Cooldown.Gate(d, b.cfg.Symbol, now)

	var events []domain.Event
	if sig.Side.Tradable() {
		events = append(events, b.signalEvent(sig))
	}
	switch {
	case blocked:
		cd := b.deps.Cooldown.Snapshot(b.cfg.Symbol)
		events = append(events, b.event(domain.EventCooldown, d.Reason, map[string]any{
			"until":       cd.Until,
			"fail_count":  cd.FailCount,
			"last_reason": cd.LastReason,
			"signal":      string(sig.Side),
		}))
	case d.Action == domain.ActionReject:
		events = append(events, b.event(domain.EventRiskReject, d.Reason, map[string]any{
			"signal": string(sig.Side),
			"score":  sig.Score,
			"equity": equity,
		}))
	}

	var fill *domain.Fill
	if d.Action.Trades() {
		d.Qty = size(d, pos, in.IntendedNotional, price, b.deps.Risk.Limits().ReduceFraction)
		next, f, evs := b.execute(ctx, d, pos, snap.Quote(), now)
		events = append(events, evs...)
		if f != nil {
			if err := b.appendFill(ctx, *f); err != nil {
				return err
			}
			pos = ledger.Mark(next, price)
			fill = f
			if equity, err = b.deps.Equity(ctx, pos); err != nil {
				equity = b.lastEquity
			}
		}
	}

	b.mu.Lock()
	b.state.Market = snap
	b.state.Position = pos
	b.state.LastSignal = sig
	b.state.Flow = res.Flow
	b.state.Liquidations = res.Liquidations
	b.state.Equity = equity
	b.state.Cycle++
	b.state.UpdatedAt = now.UTC()
	events = append(b.takePendingLocked(), events...)
	for _, e := range events {
		b.state.PushEvent(e, b.cfg.EventTape)
	}
	st := b.state
	st.Events = append([]domain.Event(nil), b.state.Events...)
	b.mu.Unlock()

	b.logger.DebugContext(ctx, "cycle",
		slog.Int64("cycle", st.Cycle),
		slog.Float64("price", price),
		slog.String("signal", string(sig.Side)),
		slog.String("signal_reason", sig.Reason),
		slog.String("action", string(d.Action)),
		slog.String("decision_reason", d.Reason),
		slog.String("flow_source", string(res.Flow.Source)),
		slog.Float64("qty", pos.Qty),
		slog.Float64("equity", equity),
	)
	if res.Stale != nil {
		b.logger.DebugContext(ctx, "flow from rest fallback", slog.String("error", res.Stale.Error()))
	}
	if err := strategy.GateError(sig); err != nil {
		b.logger.DebugContext(ctx, "signal held by gate", slog.String("error", err.Error()))
	}

	for _, e := range events {
		if err := b.deps.Store.AppendEvent(e); err != nil {
			b.logger.WarnContext(ctx, "event append failed",
				slog.String("type", string(e.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
	point, equityChanged := b.equityPoint(st)
	if equityChanged {
		if err := b.deps.Store.AppendEquity(point); err != nil {
			b.logger.WarnContext(ctx, "equity append failed", slog.String("error", err.Error()))
		}
	}
	if err := b.deps.Store.SaveWithRetry(ctx, st, b.cfg.PersistAttempts, b.cfg.PersistBackoff); err != nil {
		pe := b.event(domain.EventPersistError, err.Error(), nil)
		_ = b.deps.Store.AppendEvent(pe)
		b.mirrorEvents(ctx, []domain.Event{pe})
		return fmt.Errorf("bot: persist: %w", err)
	}

	b.mirror(ctx, st, fill, events, point, equityChanged)
	return nil
}

// execute routes the order and applies the resulting fill. On failure the
// position is untouched and an order_error event describes why.
func (b *Bot) execute(ctx context.Context, d domain.Decision, pos domain.Position, q domain.Quote, now time.Time) (domain.Position, *domain.Fill, []domain.Event) {
	entry := d.Action == domain.ActionOpen || d.Action == domain.ActionIncrease
	if d.Qty <= 0 || math.IsNaN(d.Qty) || math.IsInf(d.Qty, 0) {
		return pos, nil, []domain.Event{b.event(domain.EventRiskReject, risk.ReasonNoSize, map[string]any{
			"action": string(d.Action),
		})}
	}

	req := domain.OrderRequest{
		ClientOrderID: id.ClientOrderID("qb"),
		Venue:         b.cfg.Venue,
		Symbol:        b.cfg.Symbol,
		AccountTag:    b.cfg.AccountTag,
		Side:          d.Side,
		Qty:           d.Qty,
		Type:          domain.OrderTypeMarket,
		Reason:        d.Reason,
		CreatedAt:     now.UTC(),
	}
	f, err := b.deps.Executor.Execute(ctx, req, q)
	if err != nil {
		data := map[string]any{
			"action":          string(d.Action),
			"side":            string(d.Side),
			"qty":             d.Qty,
			"client_order_id": req.ClientOrderID,
			"category":        risk.Classify(err),
		}
		if entry {
			wait := b.deps.Cooldown.OnEntryFailed(b.cfg.Symbol, err, now)
			data["cooldown_sec"] = wait.Seconds()
		}
		return pos, nil, []domain.Event{b.event(domain.EventOrderError, err.Error(), data)}
	}

	if f.Mode == "" {
		f.Mode = b.cfg.Mode
	}
	if f.AccountTag == "" {
		f.AccountTag = b.cfg.AccountTag
	}
	if f.Reason == "" {
		f.Reason = d.Reason
	}
	next, applied, err := ledger.Apply(pos, f)
	if err != nil {
		return pos, nil, []domain.Event{b.event(domain.EventOrderError, err.Error(), map[string]any{
			"client_order_id": req.ClientOrderID,
		})}
	}

	if entry {
		b.deps.Cooldown.OnEntryFilled(b.cfg.Symbol, now)
	} else {
		b.deps.Cooldown.OnExitFilled(b.cfg.Symbol, now)
	}

	fe := b.event(domain.EventFill, d.Reason, map[string]any{"action": string(d.Action)})
	fe.Fill = &applied
	events := []domain.Event{fe}
	switch {
	case d.Trigger != "":
		events = append(events, b.event(d.Trigger, d.Reason, map[string]any{
			"price":        applied.Price,
			"realized_pnl": applied.RealizedDelta,
		}))
	case entry:
		events = append(events, b.event(domain.EventEntry, d.Reason, map[string]any{
			"side":  string(applied.Side),
			"qty":   applied.Qty,
			"price": applied.Price,
		}))
	}
	return next, &applied, events
}

// size turns a decision into an order quantity.
func size(d domain.Decision, pos domain.Position, intended, price, reduceFraction float64) float64 {
	switch d.Action {
	case domain.ActionClose:
		return math.Abs(pos.Qty)
	case domain.ActionReduce:
		return math.Abs(pos.Qty) * reduceFraction
	case domain.ActionOpen, domain.ActionIncrease:
		if d.Qty > 0 {
			return d.Qty
		}
		if price <= 0 {
			return 0
		}
		return intended / price
	}
	return 0
}

func (b *Bot) intendedNotional(equity float64) float64 {
	if b.cfg.OrderNotional > 0 {
		return b.cfg.OrderNotional
	}
	if equity <= 0 {
		return 0
	}
	return equity * b.cfg.PositionFrac
}

// exposure reads the fleet view. Without an aggregator, or when it fails,
// both scopes fall back to the bot's own exposure.
func (b *Bot) exposure(ctx context.Context, equity, own float64) (risk.Exposure, risk.Exposure) {
	self := risk.Exposure{Notional: own, Equity: equity}
	if b.deps.Global == nil {
		return self, self
	}
	g, err := b.deps.Global.Summary(ctx, b.cfg.GlobalMaxAge)
	if err != nil {
		b.logger.WarnContext(ctx, "global risk unavailable", slog.String("error", err.Error()))
		return self, self
	}
	tag := b.cfg.AccountTag
	if tag == "" {
		tag = "default"
	}
	row := g.Account(tag)
	acct := risk.Exposure{Notional: row.AbsNotional, Equity: row.Equity}
	if acct.Equity <= 0 {
		acct = self
	}
	total := risk.Exposure{Notional: g.Total.AbsNotional, Equity: g.Total.Equity}
	if total.Equity <= 0 {
		total = acct
	}
	return acct, total
}

func (b *Bot) rollDay(now time.Time, equity float64) {
	key := now.UTC().Format(time.DateOnly)
	if key != b.dayKey || b.dayStart <= 0 {
		b.dayKey = key
		b.dayStart = equity
	}
}

// equityPoint builds the equity row; changed is false when equity has not
// moved since the last appended row.
func (b *Bot) equityPoint(st domain.BotState) (domain.EquityPoint, bool) {
	p := domain.EquityPoint{
		Time:       st.UpdatedAt,
		BotID:      st.BotID,
		AccountTag: st.AccountTag,
		Equity:     st.Equity,
		Realized:   st.Position.Realized,
		Unrealized: st.Position.Unrealized,
	}
	if st.Equity == b.lastEquity {
		return p, false
	}
	b.lastEquity = st.Equity
	return p, true
}

func (b *Bot) signalEvent(sig domain.Signal) domain.Event {
	e := b.event(domain.EventSignal, sig.Reason, map[string]any{
		"side":  string(sig.Side),
		"score": sig.Score,
	})
	e.Time = sig.Time.UTC()
	return e
}

// appendFill writes the fill to the system-of-record log, retrying like the
// snapshot does. A fill that cannot be logged is fatal.
func (b *Bot) appendFill(ctx context.Context, f domain.Fill) error {
	var last error
	for i := 1; i <= b.cfg.PersistAttempts; i++ {
		if last = b.deps.Store.AppendFill(f); last == nil {
			return nil
		}
		b.logger.WarnContext(ctx, "fill append failed",
			slog.Int("attempt", i),
			slog.String("fill_id", f.ID),
			slog.String("error", last.Error()),
		)
		if i < b.cfg.PersistAttempts {
			time.Sleep(b.cfg.PersistBackoff * time.Duration(i))
		}
	}
	return fmt.Errorf("bot: append fill %s: %w", f.ID, errors.Join(domain.ErrPersistence, last))
}

func (b *Bot) takePendingLocked() []domain.Event {
	out := b.pending
	b.pending = nil
	return out
}

// flushPending persists events raised before the cycle aborted.
func (b *Bot) flushPending(ctx context.Context) {
	b.mu.Lock()
	events := b.takePendingLocked()
	for _, e := range events {
		b.state.PushEvent(e, b.cfg.EventTape)
	}
	b.mu.Unlock()
	for _, e := range events {
		if err := b.deps.Store.AppendEvent(e); err != nil {
			b.logger.WarnContext(ctx, "event append failed", slog.String("error", err.Error()))
		}
	}
	b.mirrorEvents(ctx, events)
}
