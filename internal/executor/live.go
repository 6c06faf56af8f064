package executor

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// LiveRouter sends orders to a venue adapter and normalizes the confirmed
// fill. It never fabricates a fill: any adapter failure is returned as an
// error wrapping domain.ErrAdapter.
type LiveRouter struct {
	adapter domain.VenueAdapter
	mode    domain.Mode
}

var _ Engine = (*LiveRouter)(nil)

// NewLiveRouter creates a router over adapter. mode is stamped on fills
// (live or demo).
func NewLiveRouter(adapter domain.VenueAdapter, mode domain.Mode) *LiveRouter {
	if mode == "" {
		mode = domain.ModeLive
	}
	return &LiveRouter{adapter: adapter, mode: mode}
}

func (r *LiveRouter) Name() string { return "live:" + r.adapter.Name() }

// Execute places req and returns the venue's fill. The quote is unused.
func (r *LiveRouter) Execute(ctx context.Context, req domain.OrderRequest, _ domain.Quote) (domain.Fill, error) {
	f, err := r.adapter.PlaceOrder(ctx, req)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("live: place %s %s: %w: %w", req.Side, req.Symbol, domain.ErrAdapter, err)
	}
	if f.ID == "" {
		f.ID = req.ClientOrderID
	}
	if f.ClientOrderID == "" {
		f.ClientOrderID = req.ClientOrderID
	}
	if f.Time.IsZero() {
		f.Time = req.CreatedAt
	}
	if f.Venue == "" {
		f.Venue = req.Venue
	}
	if f.Symbol == "" {
		f.Symbol = req.Symbol
	}
	if f.Side == "" {
		f.Side = req.Side
	}
	f.AccountTag = req.AccountTag
	f.Mode = r.mode
	f.Reason = req.Reason
	if err := f.Validate(); err != nil {
		return domain.Fill{}, fmt.Errorf("live: venue fill: %w: %w", domain.ErrAdapter, err)
	}
	return f, nil
}
