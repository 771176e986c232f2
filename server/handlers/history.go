package handlers

import (
	"fmt"
	"net/http"
	"strconv"
)

// HistoryHandler handles requests for the run history, newest first.
// The optional limit query parameter caps the number of entries.
type HistoryHandler struct {
	provider HistoryProvider
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(provider HistoryProvider) *HistoryHandler {
	return &HistoryHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	history := h.provider.History()
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		history = history[:min(limit, len(history))]
	}
	writeJSON(w, http.StatusOK, history)
}

// RunDetailHandler returns the full report document of one run.
type RunDetailHandler struct {
	provider HistoryProvider
}

// NewRunDetailHandler creates a new RunDetailHandler.
func NewRunDetailHandler(provider HistoryProvider) *RunDetailHandler {
	return &RunDetailHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *RunDetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok := h.provider.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, run)
}
