package executor

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// PaperSimulator fills orders against the current quote with fixed fee
// and slippage. It makes no external calls and uses no randomness: the
// same request and quote always produce the same fill.
type PaperSimulator struct {
	FeeBps      float64
	SlippageBps float64
	Mode        domain.Mode
}

var _ Engine = (*PaperSimulator)(nil)

// NewPaperSimulator creates a simulator.
func NewPaperSimulator(feeBps, slippageBps float64) *PaperSimulator {
	return &PaperSimulator{FeeBps: feeBps, SlippageBps: slippageBps, Mode: domain.ModePaper}
}

func (p *PaperSimulator) Name() string { return "paper" }

// Price returns the simulated execution price: buys lift the ask plus
// slippage, sells hit the bid minus slippage. A missing side falls back to
// the last price.
func (p *PaperSimulator) Price(side domain.Side, q domain.Quote) (float64, error) {
	slip := p.SlippageBps / 10_000
	switch side {
	case domain.SideBuy:
		ref := q.Ask
		if ref <= 0 {
			ref = q.Last
		}
		if ref <= 0 {
			return 0, fmt.Errorf("paper: no ask or last price")
		}
		return ref * (1 + slip), nil
	case domain.SideSell:
		ref := q.Bid
		if ref <= 0 {
			ref = q.Last
		}
		if ref <= 0 {
			return 0, fmt.Errorf("paper: no bid or last price")
		}
		return ref * (1 - slip), nil
	}
	return 0, fmt.Errorf("paper: side %q: %w", side, domain.ErrInvalidFill)
}

// Execute simulates req against q. The fill takes its time from the
// request and its ID from the client order ID.
func (p *PaperSimulator) Execute(_ context.Context, req domain.OrderRequest, q domain.Quote) (domain.Fill, error) {
	if !(req.Qty > 0) || math.IsInf(req.Qty, 0) {
		return domain.Fill{}, fmt.Errorf("paper: qty %v: %w", req.Qty, domain.ErrInvalidFill)
	}
	px, err := p.Price(req.Side, q)
	if err != nil {
		return domain.Fill{}, err
	}
	mode := p.Mode
	if mode == "" {
		mode = domain.ModePaper
	}
	f := domain.Fill{
		ID:            req.ClientOrderID,
		Time:          req.CreatedAt,
		Venue:         req.Venue,
		Symbol:        req.Symbol,
		AccountTag:    req.AccountTag,
		Mode:          mode,
		Side:          req.Side,
		Qty:           req.Qty,
		Price:         px,
		ClientOrderID: req.ClientOrderID,
		Reason:        req.Reason,
	}
	f.Fee = math.Max(0, p.FeeBps/10_000*f.Notional())
	if err := f.Validate(); err != nil {
		return domain.Fill{}, fmt.Errorf("paper: %w", err)
	}
	return f, nil
}
