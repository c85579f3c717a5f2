package handler

import (
	"log/slog"
	"net/http"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// SettingsHandler serves the trading settings endpoints.
type SettingsHandler struct {
	settings SettingsService
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings SettingsService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logger}
}

// GetTrading returns the active trading settings.
// GET /api/settings/trading
func (h *SettingsHandler) GetTrading(w http.ResponseWriter, r *http.Request) {
	trading, err := h.settings.Trading(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: load trading settings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trading settings")
		return
	}
	writeJSON(w, http.StatusOK, trading)
}

// UpdateTrading replaces the trading settings, including the live-trading
// switch.
// PUT /api/settings/trading
func (h *SettingsHandler) UpdateTrading(w http.ResponseWriter, r *http.Request) {
	var trading domain.TradingSettings
	if err := decodeJSON(r, &trading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.settings.UpdateTrading(r.Context(), trading, actor(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trading)
}
