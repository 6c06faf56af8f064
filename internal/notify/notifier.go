// Package notify pushes trading alerts to chat channels. A Notifier is
// plugged into the bot as a journal mirror, so it sees every event the bot
// persists and forwards the ones operators asked for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultEvents are forwarded when no event filter is configured.
var DefaultEvents = []domain.EventType{
	domain.EventFill,
	domain.EventStopLoss,
	domain.EventTrailingStop,
	domain.EventTakeProfit,
	domain.EventOrderError,
	domain.EventPersistError,
}

// Notifier dispatches formatted events to its senders.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier forwarding the named event types, or
// DefaultEvents when events is empty.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool)
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, e := range DefaultEvents {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether events of type t are forwarded.
func (n *Notifier) Enabled(t domain.EventType) bool {
	return n.events[t]
}

// RecordEvent forwards e when its type is enabled.
func (n *Notifier) RecordEvent(ctx context.Context, e domain.Event) error {
	if !n.Enabled(e.Type) {
		return nil
	}
	title, msg := Format(e)
	return n.dispatch(ctx, title, msg)
}

// RecordFill is a no-op: fills arrive as fill events.
func (n *Notifier) RecordFill(context.Context, domain.Fill) error { return nil }

// RecordEquity is a no-op.
func (n *Notifier) RecordEquity(context.Context, domain.EquityPoint) error { return nil }

// NotifyAll sends a free-form message to every sender, bypassing the
// event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Format renders an event as a title and a short body.
func Format(e domain.Event) (string, string) {
	bot := e.Venue + " " + e.Symbol
	if e.AccountTag != "" {
		bot += " [" + e.AccountTag + "]"
	}
	title := fmt.Sprintf("%s %s", strings.ToUpper(strings.ReplaceAll(string(e.Type), "_", " ")), bot)

	var b strings.Builder
	if f := e.Fill; f != nil {
		fmt.Fprintf(&b, "%s %g @ %g (fee %.4f, %s)", f.Side, f.Qty, f.Price, f.Fee, f.Mode)
		if f.RealizedDelta != 0 {
			fmt.Fprintf(&b, "\nrealized %+.4f", f.RealizedDelta)
		}
	}
	if e.Reason != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("reason: " + e.Reason)
	}
	if pnl, ok := e.Data["realized_pnl"].(float64); ok && e.Fill == nil {
		fmt.Fprintf(&b, "\nrealized %+.4f", pnl)
	}
	b.WriteString("\n" + e.Time.UTC().Format("2006-01-02 15:04:05Z"))
	return title, b.String()
}

var _ domain.JournalWriter = (*Notifier)(nil)
