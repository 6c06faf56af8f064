package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the process identity for the dashboard.
type StatusHandler struct {
	BotID     string
	Mode      string
	Strategy  string
	Trading   bool
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler. botID is empty for a
// standalone query server.
func NewStatusHandler(botID, mode, strategy string, trading bool) *StatusHandler {
	return &StatusHandler{BotID: botID, Mode: mode, Strategy: strategy, Trading: trading, StartedAt: time.Now().UTC()}
}

// GetStatus responds with the bot this process runs, its mode and strategy.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bot_id":          h.BotID,
		"mode":            h.Mode,
		"strategy_name":   h.Strategy,
		"trading_enabled": h.Trading,
		"started_at":      h.StartedAt.Format(time.RFC3339),
	})
}
