// Package globalrisk rolls up exposure across every running bot from the
// snapshots they persist.
package globalrisk

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/statestore"
)

// TotalTag labels the aggregate row.
const TotalTag = "TOTAL"

// SnapshotSource lists the current bot snapshots.
type SnapshotSource func(ctx context.Context) ([]domain.BotState, error)

// FromStateRoot reads snapshots from a shared state directory.
func FromStateRoot(root string) SnapshotSource {
	return func(ctx context.Context) ([]domain.BotState, error) {
		return statestore.ListSnapshots(root)
	}
}

// Aggregator computes GlobalRisk on read. It never writes anything.
type Aggregator struct {
	source SnapshotSource
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Aggregator over source.
func New(source SnapshotSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		source: source,
		now:    time.Now,
		logger: logger.With(slog.String("component", "globalrisk")),
	}
}

// Summary groups fresh snapshots by account tag. Snapshots updated more
// than maxAge ago are left out entirely. Bots sharing an account report the
// same wallet, so account equity is the max across its bots while notional
// is summed; the total row sums the accounts.
func (a *Aggregator) Summary(ctx context.Context, maxAge time.Duration) (domain.GlobalRisk, error) {
	now := a.now()
	states, err := a.source(ctx)
	if err != nil {
		// partial results are still useful: a single corrupt snapshot
		// should not blind every bot to global exposure.
		a.logger.WarnContext(ctx, "some snapshots unreadable", slog.String("error", err.Error()))
	}

	cutoff := now.Add(-maxAge)
	rows := make(map[string]*domain.AccountRiskRow)
	for _, st := range states {
		if maxAge > 0 && st.UpdatedAt.Before(cutoff) {
			continue
		}
		tag := st.AccountTag
		if tag == "" {
			tag = "default"
		}
		r, ok := rows[tag]
		if !ok {
			r = &domain.AccountRiskRow{AccountTag: tag}
			rows[tag] = r
		}
		if st.Equity > r.Equity {
			r.Equity = st.Equity
		}
		r.AbsNotional += st.AbsNotional()
		r.Bots++
		if st.UpdatedAt.After(r.UpdatedAt) {
			r.UpdatedAt = st.UpdatedAt
		}
	}

	out := domain.GlobalRisk{
		MaxAge:     maxAge,
		ComputedAt: now,
		Total:      domain.AccountRiskRow{AccountTag: TotalTag, UpdatedAt: now},
	}
	for _, r := range rows {
		r.ExposureFrac = domain.Fraction(r.AbsNotional, r.Equity)
		out.Accounts = append(out.Accounts, *r)
		out.Total.Equity += r.Equity
		out.Total.AbsNotional += r.AbsNotional
		out.Total.Bots += r.Bots
	}
	sort.Slice(out.Accounts, func(i, j int) bool {
		return out.Accounts[i].AccountTag < out.Accounts[j].AccountTag
	})
	out.Total.ExposureFrac = domain.Fraction(out.Total.AbsNotional, out.Total.Equity)
	return out, nil
}

// Account returns the fresh row for one account tag, or a zero row.
func (a *Aggregator) Account(ctx context.Context, tag string, maxAge time.Duration) (domain.AccountRiskRow, error) {
	g, err := a.Summary(ctx, maxAge)
	if err != nil {
		return domain.AccountRiskRow{AccountTag: tag}, err
	}
	return g.Account(tag), nil
}
