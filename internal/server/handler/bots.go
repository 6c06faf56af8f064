package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// StateSource returns the latest state of every bot.
type StateSource func(ctx context.Context) ([]domain.BotState, error)

// TapeSource returns the newest trade prints of the in-process bot.
type TapeSource func(now time.Time, limit int) []domain.TradePrint

// BotsHandler serves bot snapshots and the live trade tape.
type BotsHandler struct {
	states StateSource
	tape   TapeSource
	logger *slog.Logger
}

// NewBotsHandler creates a BotsHandler. tape may be nil.
func NewBotsHandler(states StateSource, tape TapeSource, logger *slog.Logger) *BotsHandler {
	return &BotsHandler{states: states, tape: tape, logger: logHandler(logger, "bots")}
}

type listBotsResponse struct {
	Bots []domain.BotState `json:"bots"`
}

// ListBots returns the current snapshot of every bot, sorted by id.
// GET /api/bots?account=
func (h *BotsHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	states, err := h.states(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bots failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	account := r.URL.Query().Get("account")
	var out []domain.BotState
	for _, st := range states {
		if account == "" || st.AccountTag == account {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	writeJSON(w, http.StatusOK, listBotsResponse{Bots: emptyIfNil(out)})
}

// GetBot returns the snapshot of one bot.
// GET /api/bots/{venue}/{symbol}?account=
func (h *BotsHandler) GetBot(w http.ResponseWriter, r *http.Request) {
	key := domain.BotKey(pathParam(r, "venue"), strings.ToUpper(pathParam(r, "symbol")), r.URL.Query().Get("account"))
	states, err := h.states(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get bot failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load bot")
		return
	}
	for _, st := range states {
		if st.BotID == key {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, "bot not found")
}

type tapeResponse struct {
	Trades []domain.TradePrint `json:"trades"`
}

// Tape returns the newest prints seen by this process's trade stream,
// newest first.
// GET /api/tape?limit=50
func (h *BotsHandler) Tape(w http.ResponseWriter, r *http.Request) {
	if h.tape == nil {
		writeError(w, http.StatusNotFound, "no trade tape in this process")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 1000)
	}
	writeJSON(w, http.StatusOK, tapeResponse{Trades: emptyIfNil(h.tape(time.Now(), limit))})
}
