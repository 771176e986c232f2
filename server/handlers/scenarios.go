package handlers

import (
	"log/slog"
	"net/http"
)

// ScenariosResponse is the JSON response for /api/scenarios.
type ScenariosResponse struct {
	Scenarios []string          `json:"scenarios"`
	Invalid   map[string]string `json:"invalid,omitempty"`
}

// ScenariosHandler lists the runnable scenarios and the rows that fail validation.
type ScenariosHandler struct {
	logger   *slog.Logger
	provider ScenarioProvider
}

// NewScenariosHandler creates a new ScenariosHandler.
func NewScenariosHandler(logger *slog.Logger, provider ScenarioProvider) *ScenariosHandler {
	return &ScenariosHandler{
		logger:   logger,
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *ScenariosHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	names, err := h.provider.Names()
	if err != nil {
		h.logger.Error("failed to load scenarios", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	invalid, err := h.provider.Invalid()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := ScenariosResponse{Scenarios: make([]string, 0, len(names))}
	for _, name := range names {
		if _, bad := invalid[name]; !bad {
			resp.Scenarios = append(resp.Scenarios, name)
		}
	}
	if len(invalid) > 0 {
		resp.Invalid = make(map[string]string, len(invalid))
		for name, err := range invalid {
			resp.Invalid[name] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
