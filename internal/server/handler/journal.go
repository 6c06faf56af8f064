package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/ledger"
)

// JournalHandler serves fills, events, equity and realized PnL from the
// journal: Postgres, SQLite or the bots' own log files.
type JournalHandler struct {
	journal domain.JournalReader
	logger  *slog.Logger
}

// NewJournalHandler creates a JournalHandler over journal.
func NewJournalHandler(journal domain.JournalReader, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{journal: journal, logger: logHandler(logger, "journal")}
}

type listFillsResponse struct {
	Fills []domain.Fill `json:"fills"`
}

// ListFills returns fills oldest first.
// GET /api/fills?account&venue&symbol&from&to&limit
func (h *JournalHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fills, err := h.journal.ListFills(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list fills failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}
	writeJSON(w, http.StatusOK, listFillsResponse{Fills: emptyIfNil(fills)})
}

type listEquityResponse struct {
	Equity []domain.EquityPoint `json:"equity"`
}

// ListEquity returns the equity curve.
// GET /api/equity?account&venue&symbol&from&to&limit
func (h *JournalHandler) ListEquity(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := h.journal.ListEquity(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list equity failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list equity")
		return
	}
	writeJSON(w, http.StatusOK, listEquityResponse{Equity: emptyIfNil(points)})
}

type listEventsResponse struct {
	Venue  string         `json:"venue"`
	Symbol string         `json:"symbol"`
	Events []domain.Event `json:"events"`
}

// ListBotEvents returns one bot's events.
// GET /api/bots/{venue}/{symbol}/events?account&type&from&to&limit
func (h *JournalHandler) ListBotEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Venue = pathParam(r, "venue")
	f.Symbol = strings.ToUpper(pathParam(r, "symbol"))

	events, err := h.journal.ListEvents(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("venue", f.Venue),
			slog.String("symbol", f.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Venue: f.Venue, Symbol: f.Symbol, Events: emptyIfNil(events)})
}

type pnlResponse struct {
	From    *time.Time      `json:"from,omitempty"`
	To      *time.Time      `json:"to,omitempty"`
	Summary ledger.Summary  `json:"summary"`
	Days    []ledger.DayPnL `json:"days"`
	Trades  []ledger.Trade  `json:"trades"`
}

// PnL aggregates realized PnL by day over [from, to). Round trips are
// rebuilt from the full history up to "to" so a window that starts mid
// position still prices its exits against the right entry.
// GET /api/pnl?from&to&account&venue&symbol
func (h *JournalHandler) PnL(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from := f.Since
	history := f
	history.Since = nil
	history.Limit = maxLimit

	fills, err := h.journal.ListFills(r.Context(), history)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: pnl fills failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute pnl")
		return
	}

	trades, _ := ledger.Report(fills)
	inWindow := func(ts time.Time) bool { return from == nil || !ts.Before(*from) }

	var windowTrades []ledger.Trade
	for _, t := range trades {
		if inWindow(t.Time) {
			windowTrades = append(windowTrades, t)
		}
	}
	var windowFills []domain.Fill
	var fees float64
	for _, fl := range fills {
		if inWindow(fl.Time) {
			windowFills = append(windowFills, fl)
			fees += fl.Fee
		}
	}

	sum := ledger.Summarize(windowTrades)
	sum.Fees = fees
	writeJSON(w, http.StatusOK, pnlResponse{
		From:    from,
		To:      f.Until,
		Summary: sum,
		Days:    emptyIfNil(ledger.Daily(windowFills, time.UTC)),
		Trades:  emptyIfNil(windowTrades),
	})
}
