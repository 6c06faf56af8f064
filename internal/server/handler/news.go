package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NewsSink scores headlines for the signal generators.
type NewsSink interface {
	Add(id, text string, at time.Time) float64
	Score(now time.Time) float64
}

// NewsHandler accepts headlines from an external poller.
type NewsHandler struct {
	sink   NewsSink
	logger *slog.Logger
}

// NewNewsHandler creates a NewsHandler feeding sink.
func NewNewsHandler(sink NewsSink, logger *slog.Logger) *NewsHandler {
	return &NewsHandler{sink: sink, logger: logHandler(logger, "news")}
}

type newsRequest struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Time  time.Time `json:"ts"`
}

type newsResponse struct {
	Score float64 `json:"score"`
	Total float64 `json:"total"`
}

// AddHeadline scores one headline; a repeated id scores 0. The response
// carries the headline's score and the live total.
// POST /api/news
func (h *NewsHandler) AddHeadline(w http.ResponseWriter, r *http.Request) {
	var req newsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	now := time.Now().UTC()
	if req.Time.IsZero() {
		req.Time = now
	}

	score := h.sink.Add(req.ID, req.Title, req.Time)
	if score != 0 {
		h.logger.InfoContext(r.Context(), "headline scored",
			slog.String("title", req.Title),
			slog.Float64("score", score),
		)
	}
	writeJSON(w, http.StatusOK, newsResponse{Score: score, Total: h.sink.Score(now)})
}
