package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// RiskSource computes the cross-bot exposure summary.
type RiskSource interface {
	Summary(ctx context.Context, maxAge time.Duration) (domain.GlobalRisk, error)
}

// RiskHandler serves the global risk aggregate.
type RiskHandler struct {
	risk   RiskSource
	maxAge time.Duration
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler. maxAge is used when the request
// does not carry one.
func NewRiskHandler(risk RiskSource, maxAge time.Duration, logger *slog.Logger) *RiskHandler {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &RiskHandler{risk: risk, maxAge: maxAge, logger: logHandler(logger, "risk")}
}

// Global returns per-account and total exposure over fresh snapshots. With
// account set only that row is returned.
// GET /api/risk/global?max_age=30s&account=
func (h *RiskHandler) Global(w http.ResponseWriter, r *http.Request) {
	maxAge := h.maxAge
	if v := r.URL.Query().Get("max_age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid max_age")
			return
		}
		maxAge = d
	}

	g, err := h.risk.Summary(r.Context(), maxAge)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: global risk failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute global risk")
		return
	}
	if tag := r.URL.Query().Get("account"); tag != "" {
		writeJSON(w, http.StatusOK, g.Account(tag))
		return
	}
	g.Accounts = emptyIfNil(g.Accounts)
	writeJSON(w, http.StatusOK, g)
}
