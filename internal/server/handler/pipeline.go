package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// PipelineHandler serves the archive trigger endpoint.
type PipelineHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending triggers one archive run
}

// NewPipelineHandler creates a PipelineHandler with the given logger.
func NewPipelineHandler(logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{logger: logHandler(logger, "pipeline")}
}

// WithTriggerChannel sets the channel to send on when a trigger is requested.
// The archiver loop must receive from this channel to run once.
func (h *PipelineHandler) WithTriggerChannel(ch chan<- struct{}) *PipelineHandler {
	h.triggerCh = ch
	return h
}

// TriggerPipeline enqueues one archive run with a non-blocking send. It
// answers 503 when no archiver is running in this process.
// POST /api/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "archiver not running")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: archive trigger requested")
	queued := true
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// already triggered and not yet consumed
		queued = false
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"queued":       queued,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
