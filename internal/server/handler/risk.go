package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// RiskReader exposes the running risk state.
type RiskReader interface {
	State(ctx context.Context) (domain.RiskState, error)
}

// SettingsService defines the settings operations the risk and settings
// handlers require.
type SettingsService interface {
	RiskLimits(ctx context.Context) (domain.RiskLimits, error)
	UpdateRiskLimits(ctx context.Context, limits domain.RiskLimits, actor string) error
	Trading(ctx context.Context) (domain.TradingSettings, error)
	UpdateTrading(ctx context.Context, trading domain.TradingSettings, actor string) error
}

// RiskHandler serves the risk limits and risk state endpoints.
type RiskHandler struct {
	risk     RiskReader
	settings SettingsService
	logger   *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(risk RiskReader, settings SettingsService, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{risk: risk, settings: settings, logger: logger}
}

type riskResponse struct {
	Limits domain.RiskLimits `json:"limits"`
	State  domain.RiskState  `json:"state"`
}

// GetRisk returns the active limits and the running portfolio state.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	limits, err := h.settings.RiskLimits(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: load risk limits failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load risk limits")
		return
	}

	state, err := h.risk.State(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: load risk state failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load risk state")
		return
	}

	writeJSON(w, http.StatusOK, riskResponse{Limits: limits, State: state})
}

// UpdateRiskLimits replaces the active risk limits.
// PUT /api/risk/limits
func (h *RiskHandler) UpdateRiskLimits(w http.ResponseWriter, r *http.Request) {
	var limits domain.RiskLimits
	if err := decodeJSON(r, &limits); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.settings.UpdateRiskLimits(r.Context(), limits, actor(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, limits)
}
