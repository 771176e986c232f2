package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nomis52/posrunner/batch"
)

// RunRequest defines the request body for POST /api/run.
type RunRequest struct {
	Scenarios []string `json:"scenarios"`
}

// RunHandler handles requests to trigger a batch.
type RunHandler struct {
	trigger BatchTrigger
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(t BatchTrigger) *RunHandler {
	return &RunHandler{
		trigger: t,
	}
}

// ServeHTTP implements http.Handler.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	if len(req.Scenarios) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("scenarios array cannot be empty"))
		return
	}

	seen := make(map[string]bool, len(req.Scenarios))
	for _, name := range req.Scenarios {
		if seen[name] {
			writeError(w, http.StatusBadRequest, fmt.Errorf("duplicate scenario %q in request", name))
			return
		}
		seen[name] = true
	}

	if err := h.trigger.Trigger(req.Scenarios); err != nil {
		if errors.Is(err, batch.ErrBatchInProgress) {
			writeError(w, http.StatusConflict, err)
			return
		}
		// unknown scenario or unreadable data
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
