package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// StrategyService defines the strategy operations the handler requires.
type StrategyService interface {
	Create(ctx context.Context, rec *domain.StrategyRecord, actor string) error
	Update(ctx context.Context, rec *domain.StrategyRecord, actor string) error
	Delete(ctx context.Context, id int64, actor string) error
	Get(ctx context.Context, id int64) (*domain.StrategyRecord, error)
	List(ctx context.Context) ([]*domain.StrategyRecord, error)
	Overview(ctx context.Context) ([]domain.StrategyOverview, error)
}

// StrategyHandler serves the exit-strategy definition endpoints.
type StrategyHandler struct {
	strategies StrategyService
	logger     *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(strategies StrategyService, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{strategies: strategies, logger: logger}
}

type listStrategiesResponse struct {
	Strategies []*domain.StrategyRecord `json:"strategies"`
}

// ListStrategies returns all strategy definitions.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	records, err := h.strategies.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list strategies failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list strategies")
		return
	}
	if records == nil {
		records = []*domain.StrategyRecord{}
	}
	writeJSON(w, http.StatusOK, listStrategiesResponse{Strategies: records})
}

// GetStrategy returns one strategy definition.
// GET /api/strategies/{id}
func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strategy id")
		return
	}

	rec, err := h.strategies.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get strategy")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateStrategy stores a new strategy definition.
// POST /api/strategies
func (h *StrategyHandler) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var rec domain.StrategyRecord
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.strategies.Create(r.Context(), &rec, actor(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// UpdateStrategy replaces a strategy definition. Open positions pick up the
// change on their next evaluation.
// PUT /api/strategies/{id}
func (h *StrategyHandler) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strategy id")
		return
	}

	var rec domain.StrategyRecord
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec.ID = id

	if err := h.strategies.Update(r.Context(), &rec, actor(r)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteStrategy removes a strategy definition.
// DELETE /api/strategies/{id}
func (h *StrategyHandler) DeleteStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strategy id")
		return
	}

	if err := h.strategies.Delete(r.Context(), id, actor(r)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete strategy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StrategyOverview aggregates position outcomes per strategy.
// GET /api/strategies/overview
func (h *StrategyHandler) StrategyOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.strategies.Overview(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: strategy overview failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to build overview")
		return
	}
	if overview == nil {
		overview = []domain.StrategyOverview{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"overview": overview})
}
