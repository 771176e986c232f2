package handlers

import (
	"net/http"
)

// HealthHandler reports whether the scheduler can serve batches: it fails
// with 503 when the scenario file could not be loaded.
type HealthHandler struct {
	scenarios ScenarioProvider
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(scenarios ScenarioProvider) *HealthHandler {
	return &HealthHandler{scenarios: scenarios}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if _, err := h.scenarios.Names(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("scenario data unavailable: " + err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
