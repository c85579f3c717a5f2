package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// PositionService defines the methods the position handler requires.
type PositionService interface {
	List(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error)
	Get(ctx context.Context, id string) (*domain.Position, error)
	Close(ctx context.Context, positionID string, exitPrice, fraction float64, reason string) error
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionService
	prices    domain.PriceFeed
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, prices domain.PriceFeed, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, prices: prices, logger: logger}
}

type listPositionsResponse struct {
	Positions []*domain.Position `json:"positions"`
}

// ListPositions returns positions matching the query filters.
// GET /api/positions?status=open&mode=live&market_id=...&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.PositionFilter{
		Status:      domain.PositionStatus(q.Get("status")),
		TradingMode: domain.TradingMode(q.Get("mode")),
		MarketID:    q.Get("market_id"),
		Source:      q.Get("source"),
		Limit:       queryInt(r, "limit", 50),
		Offset:      queryInt(r, "offset", 0),
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	positions, err := h.positions.List(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []*domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type closePositionRequest struct {
	Fraction float64 `json:"fraction"`
	Reason   string  `json:"reason"`
}

// ClosePosition manually exits a fraction of a position at the current
// market price. Fraction defaults to 1 (full close).
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	req := closePositionRequest{Fraction: 1, Reason: "manual"}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Fraction <= 0 || req.Fraction > 1 {
		writeError(w, http.StatusBadRequest, "fraction must be in (0, 1]")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	pos, err := h.positions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	price := pos.CurrentPrice
	if pos.TokenID != "" {
		if quoted, priceErr := h.prices.Price(r.Context(), pos.TokenID); priceErr == nil {
			price = quoted
		}
	}

	if err := h.positions.Close(r.Context(), id, price, req.Fraction, req.Reason); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "position is not open")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	closed, err := h.positions.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	writeJSON(w, http.StatusOK, closed)
}
