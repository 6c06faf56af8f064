package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// PriceReader reads the marks bots publish to the shared cache.
type PriceReader interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// PricesHandler serves the latest cached marks.
type PricesHandler struct {
	prices PriceReader
	logger *slog.Logger
}

// NewPricesHandler creates a PricesHandler over prices.
func NewPricesHandler(prices PriceReader, logger *slog.Logger) *PricesHandler {
	return &PricesHandler{prices: prices, logger: logHandler(logger, "prices")}
}

// GetPrices returns {symbol: mark} for ?symbols=BTCUSDT,ETHUSDT. Symbols
// with no live mark are omitted.
// GET /api/prices
func (h *PricesHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, s := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols is required")
		return
	}
	if len(symbols) > 100 {
		writeError(w, http.StatusBadRequest, "at most 100 symbols")
		return
	}

	marks, err := h.prices.GetPrices(r.Context(), symbols)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "price cache read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "price cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, marks)
}
