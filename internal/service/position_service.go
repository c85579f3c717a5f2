package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmonteroh/polysignal/internal/domain"
	"github.com/jmonteroh/polysignal/internal/notify"
)

// OpenRequest describes a position entry derived from a trade signal. Size is
// the USD capital to allocate, already scaled by any per-source multiplier.
type OpenRequest struct {
	Signal       domain.TradeSignal
	StrategyID   int64
	StrategyName string
	Size         float64
}

// PositionService owns the position lifecycle: entries gated by the risk
// checks, duplicate suppression per (market, side), paper or live execution,
// and exits at a fraction of the remaining size.
type PositionService struct {
	positions domain.PositionStore
	orders    domain.OrderStore
	runtimes  domain.StrategyRuntimeStore
	prices    domain.PriceFeed
	gateway   domain.OrderGateway
	risk      *RiskService
	settings  domain.SettingsStore
	audit     domain.AuditStore
	notifier  *notify.Notifier
	logger    *slog.Logger
}

// NewPositionService creates a PositionService with all required
// dependencies. gateway may be nil when the bot has no exchange credentials;
// every entry then executes in paper mode.
func NewPositionService(
	positions domain.PositionStore,
	orders domain.OrderStore,
	runtimes domain.StrategyRuntimeStore,
	prices domain.PriceFeed,
	gateway domain.OrderGateway,
	risk *RiskService,
	settings domain.SettingsStore,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		orders:    orders,
		runtimes:  runtimes,
		prices:    prices,
		gateway:   gateway,
		risk:      risk,
		settings:  settings,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
	}
}

// Open enters a position from a trade signal. The entry is rejected when the
// risk checks fail; when a non-terminal position already holds the same
// market and side the call is idempotent and returns it. The position
// runs live only while the persisted live-trading switch is on AND the signal
// carries a token id AND an order gateway is configured; otherwise it is a
// paper fill at the current price.
func (s *PositionService) Open(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	sig := req.Signal

	if err := s.risk.ValidateTrade(ctx, req.Size); err != nil {
		return nil, err
	}

	// A repeated (market, side) entry is idempotent: the caller gets the
	// position that already holds the market, not an error.
	if existing, err := s.positions.GetOpenByMarket(ctx, sig.MarketID, sig.Side); err == nil {
		s.logger.InfoContext(ctx, "position_service: duplicate entry suppressed",
			slog.String("market_id", sig.MarketID),
			slog.String("side", sig.Side),
			slog.String("existing_id", existing.ID),
		)
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("position_service: dedup check: %w", err)
	}

	trading, err := s.settings.Trading(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: load trading settings: %w", err)
	}

	entry := sig.PriceAtSignal
	if sig.TokenID != "" {
		if price, priceErr := s.prices.Price(ctx, sig.TokenID); priceErr == nil {
			entry = price
		} else {
			s.logger.WarnContext(ctx, "position_service: entry price fetch failed, using signal price",
				slog.String("token_id", sig.TokenID),
				slog.String("error", priceErr.Error()),
			)
		}
	}
	if entry <= 0 || entry >= 1 {
		return nil, fmt.Errorf("position_service: entry price %.4f out of range (0, 1)", entry)
	}

	live := trading.LiveTrading && sig.TokenID != "" && s.gateway != nil

	now := time.Now().UTC()
	pos := &domain.Position{
		ID:             uuid.NewString(),
		SignalID:       sig.ID,
		StrategyID:     req.StrategyID,
		StrategyName:   req.StrategyName,
		MarketID:       sig.MarketID,
		TokenID:        sig.TokenID,
		MarketQuestion: sig.MarketQuestion,
		Side:           sig.Side,
		Source:         sig.Source,
		EntryPrice:     entry,
		CurrentPrice:   entry,
		Size:           req.Size,
		SharesOrdered:  req.Size / entry,
		TradingMode:    domain.TradingModePaper,
		Status:         domain.PositionStatusOpen,
		OpenedAt:       now,
	}
	if live {
		pos.TradingMode = domain.TradingModeLive
		pos.Status = domain.PositionStatusPending
	} else {
		pos.SharesFilled = pos.SharesOrdered
	}

	if err := s.positions.Create(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrDuplicatePosition) {
			return nil, err
		}
		return nil, fmt.Errorf("position_service: create position: %w", err)
	}

	if live {
		if err := s.placeEntryOrder(ctx, pos); err != nil {
			// The position stays in the store as failed; the error carries
			// the exchange's reason.
			return pos, err
		}
	}

	s.auditAppend(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"market_id":   pos.MarketID,
		"side":        pos.Side,
		"source":      pos.Source,
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
		"mode":        string(pos.TradingMode),
	})
	s.notify(ctx, "position_opened", "Position opened",
		fmt.Sprintf("%s %s @ %.3f for $%.2f (%s)", pos.Side, pos.MarketQuestion, pos.EntryPrice, pos.Size, pos.TradingMode))

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("side", pos.Side),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size", pos.Size),
		slog.String("mode", string(pos.TradingMode)),
	)
	return pos, nil
}

// placeEntryOrder validates and places the live entry order. On any failure
// the position is marked failed with the exchange error preserved.
func (s *PositionService) placeEntryOrder(ctx context.Context, pos *domain.Position) error {
	req := domain.OrderRequest{
		TokenID: pos.TokenID,
		Side:    domain.OrderSideBuy,
		Type:    domain.OrderTypeFOK,
		Price:   pos.EntryPrice,
		Size:    pos.SharesOrdered,
	}

	fail := func(reason string) error {
		pos.Status = domain.PositionStatusFailed
		pos.LastOrderError = reason
		if err := s.positions.UpdateIfStatus(ctx, pos, domain.PositionStatusPending); err != nil {
			s.logger.ErrorContext(ctx, "position_service: mark entry failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
		s.notify(ctx, "order_failed", "Entry order failed",
			fmt.Sprintf("%s %s: %s", pos.Side, pos.MarketQuestion, reason))
		return fmt.Errorf("position_service: entry order: %s", reason)
	}

	if err := s.gateway.ValidateOrder(ctx, req); err != nil {
		return fail(err.Error())
	}

	res, err := s.gateway.PlaceOrder(ctx, req)
	if err != nil {
		return fail(err.Error())
	}
	if !res.Success {
		return fail(res.Error)
	}

	order := &domain.Order{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		ExchangeID: res.OrderID,
		TokenID:    pos.TokenID,
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeFOK,
		Price:      pos.EntryPrice,
		Size:       pos.SharesOrdered,
		FilledSize: res.FilledSize,
		AvgPrice:   res.AvgPrice,
		Status:     res.Status,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "position_service: record entry order",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	pos.EntryOrderID = res.OrderID
	pos.EntryOrderStatus = res.Status
	if res.Status.IsFilled() {
		pos.Status = domain.PositionStatusOpen
		pos.SharesFilled = res.FilledSize
		if pos.SharesFilled == 0 {
			pos.SharesFilled = pos.SharesOrdered
		}
		pos.AvgFillPrice = res.AvgPrice
		if res.AvgPrice != nil && *res.AvgPrice > 0 {
			pos.EntryPrice = *res.AvgPrice
			pos.CurrentPrice = *res.AvgPrice
		}
	}
	if err := s.positions.UpdateIfStatus(ctx, pos, domain.PositionStatusPending); err != nil {
		return fmt.Errorf("position_service: persist entry order: %w", err)
	}
	return nil
}

// Close exits a fraction of an open position at the given price for the
// given reason. fraction of 1 closes the whole position; a fraction in
// (0, 1) realizes that share of the pnl and shrinks the remaining size.
// Only positions in the open state can be closed; anything else returns
// ErrInvalidTransition.
func (s *PositionService) Close(ctx context.Context, positionID string, exitPrice, fraction float64, reason string) error {
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("position_service: close fraction %.3f out of range (0, 1]", fraction)
	}

	pos, err := s.positions.Get(ctx, positionID)
	if err != nil {
		return fmt.Errorf("position_service: get position %q: %w", positionID, err)
	}
	if pos.Status != domain.PositionStatusOpen {
		return fmt.Errorf("%w: close from %s", domain.ErrInvalidTransition, pos.Status)
	}

	if pos.IsLive() {
		return s.placeExitOrder(ctx, pos, exitPrice, fraction, reason)
	}
	return s.settle(ctx, pos, exitPrice, fraction, reason, domain.PositionStatusOpen)
}

// placeExitOrder submits a live sell order for fraction of the remaining
// shares and moves the position to closing. If the exchange rejects the
// order the position stays open with the error recorded.
func (s *PositionService) placeExitOrder(ctx context.Context, pos *domain.Position, exitPrice, fraction float64, reason string) error {
	shares := pos.SharesFilled * fraction
	req := domain.OrderRequest{
		TokenID: pos.TokenID,
		Side:    domain.OrderSideSell,
		Type:    domain.OrderTypeFOK,
		Price:   exitPrice,
		Size:    shares,
	}

	res, err := s.gateway.PlaceOrder(ctx, req)
	if err != nil || !res.Success {
		msg := res.Error
		if err != nil {
			msg = err.Error()
		}
		pos.LastOrderError = msg
		if updateErr := s.positions.UpdateIfStatus(ctx, pos, domain.PositionStatusOpen); updateErr != nil {
			s.logger.ErrorContext(ctx, "position_service: record exit error",
				slog.String("position_id", pos.ID),
				slog.String("error", updateErr.Error()),
			)
		}
		s.notify(ctx, "order_failed", "Exit order failed",
			fmt.Sprintf("%s %s: %s", pos.Side, pos.MarketQuestion, msg))
		return fmt.Errorf("position_service: exit order: %s", msg)
	}

	order := &domain.Order{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		ExchangeID: res.OrderID,
		TokenID:    pos.TokenID,
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeFOK,
		Price:      exitPrice,
		Size:       shares,
		FilledSize: res.FilledSize,
		AvgPrice:   res.AvgPrice,
		Status:     res.Status,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "position_service: record exit order",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	pos.ExitOrderID = res.OrderID
	pos.ExitOrderStatus = res.Status
	pos.Status = domain.PositionStatusClosing
	if err := s.positions.UpdateIfStatus(ctx, pos, domain.PositionStatusOpen); err != nil {
		return fmt.Errorf("position_service: move to closing: %w", err)
	}

	if res.Status.IsFilled() {
		fillPrice := exitPrice
		if res.AvgPrice != nil && *res.AvgPrice > 0 {
			fillPrice = *res.AvgPrice
		}
		return s.settle(ctx, pos, fillPrice, fraction, reason, domain.PositionStatusClosing)
	}

	s.logger.InfoContext(ctx, "position_service: exit order placed",
		slog.String("position_id", pos.ID),
		slog.String("order_id", res.OrderID),
		slog.Float64("fraction", fraction),
		slog.String("reason", reason),
	)
	return nil
}

// Settle finalizes a fill for fraction of the position at exitPrice. Exported
// for the order monitor, which settles live exits once the exchange reports
// them filled. expect is the status the position must still hold.
func (s *PositionService) Settle(ctx context.Context, pos *domain.Position, exitPrice, fraction float64, reason string) error {
	return s.settle(ctx, pos, exitPrice, fraction, reason, pos.Status)
}

func (s *PositionService) settle(ctx context.Context, pos *domain.Position, exitPrice, fraction float64, reason string, expect domain.PositionStatus) error {
	// Realized pnl on the exited slice. Each side trades its own token, so
	// profit is always the token price moving up from entry.
	exitedSize := pos.Size * fraction
	realized := (exitPrice - pos.EntryPrice) * exitedSize / pos.EntryPrice

	pos.CurrentPrice = exitPrice
	pos.RealizedPnL += realized

	full := fraction >= 1
	if full {
		now := time.Now().UTC()
		pos.Status = domain.PositionStatusClosed
		pos.ExitPrice = &exitPrice
		pos.ClosedAt = &now
		pos.Size = 0
		pos.SharesFilled = 0
		pos.UnrealizedPnL = 0
		pos.UnrealizedPnLPercent = 0
		if base := initialSize(pos); base > 0 {
			pos.RealizedPnLPercent = pos.RealizedPnL / base * 100
		}
	} else {
		// A partial fill leaves the remainder open, whatever state the
		// exit order had the position in.
		pos.Status = domain.PositionStatusOpen
		pos.Size -= exitedSize
		pos.SharesFilled *= 1 - fraction
		pos.ExitOrderID = ""
		pos.ExitOrderStatus = ""
	}

	if err := s.positions.UpdateIfStatus(ctx, pos, expect); err != nil {
		return fmt.Errorf("position_service: settle: %w", err)
	}

	if full {
		if err := s.runtimes.Delete(ctx, pos.ID); err != nil {
			s.logger.WarnContext(ctx, "position_service: delete strategy runtime",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Each settle records only its own slice; partial exits were already
	// folded in when they fired.
	if err := s.risk.RecordDailyPnL(ctx, realized); err != nil {
		s.logger.ErrorContext(ctx, "position_service: record daily pnl",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	s.auditAppend(ctx, "position_closed", map[string]any{
		"position_id":  pos.ID,
		"market_id":    pos.MarketID,
		"exit_price":   exitPrice,
		"fraction":     fraction,
		"realized_pnl": realized,
		"reason":       reason,
	})
	s.notify(ctx, "position_closed", "Position closed",
		fmt.Sprintf("%s %s @ %.3f: %+.2f (%s)", pos.Side, pos.MarketQuestion, exitPrice, realized, reason))

	s.logger.InfoContext(ctx, "position_service: position settled",
		slog.String("position_id", pos.ID),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("fraction", fraction),
		slog.Float64("realized_pnl", realized),
		slog.String("reason", reason),
	)
	return nil
}

// RefreshPrice updates the current price and unrealized pnl of an open
// position.
func (s *PositionService) RefreshPrice(ctx context.Context, pos *domain.Position, currentPrice float64) error {
	pos.CurrentPrice = currentPrice
	pos.UnrealizedPnL = (currentPrice - pos.EntryPrice) * pos.Size / pos.EntryPrice
	pos.UnrealizedPnLPercent = domain.PnLPercent(pos.EntryPrice, currentPrice)

	if err := s.positions.UpdateIfStatus(ctx, pos, domain.PositionStatusOpen); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// The position moved on under us; the next cycle sees the
			// fresh state.
			return nil
		}
		return fmt.Errorf("position_service: refresh price: %w", err)
	}
	return nil
}

// List returns positions matching the filter.
func (s *PositionService) List(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	positions, err := s.positions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("position_service: list: %w", err)
	}
	return positions, nil
}

// Get returns one position by id.
func (s *PositionService) Get(ctx context.Context, id string) (*domain.Position, error) {
	pos, err := s.positions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("position_service: get %q: %w", id, err)
	}
	return pos, nil
}

// Overview aggregates position outcomes per exit strategy.
func (s *PositionService) Overview(ctx context.Context) ([]domain.StrategyOverview, error) {
	overview, err := s.positions.OverviewByStrategy(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: overview: %w", err)
	}
	return overview, nil
}

// initialSize reconstructs the entry-time USD size from the filled shares.
func initialSize(pos *domain.Position) float64 {
	return pos.SharesOrdered * pos.EntryPrice
}

func (s *PositionService) auditAppend(ctx context.Context, action string, detail map[string]any) {
	if err := s.audit.Append(ctx, &domain.AuditEntry{Action: action, Detail: detail}); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit append failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "position_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
