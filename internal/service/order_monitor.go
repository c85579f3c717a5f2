package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// OrderMonitor reconciles live positions with the exchange's view of their
// orders. It resolves pending entries to open or failed and closing exits to
// closed, and reverts a position to open when its exit order dies so the
// exit engine can try again.
type OrderMonitor struct {
	positions domain.PositionStore
	orders    domain.OrderStore
	gateway   domain.OrderGateway
	svc       *PositionService
	logger    *slog.Logger
}

// NewOrderMonitor creates an OrderMonitor.
func NewOrderMonitor(
	positions domain.PositionStore,
	orders domain.OrderStore,
	gateway domain.OrderGateway,
	svc *PositionService,
	logger *slog.Logger,
) *OrderMonitor {
	return &OrderMonitor{
		positions: positions,
		orders:    orders,
		gateway:   gateway,
		svc:       svc,
		logger:    logger,
	}
}

// Run performs one reconciliation sweep over all live positions awaiting an
// order fill. A failure on one position never blocks the rest.
func (m *OrderMonitor) Run(ctx context.Context) error {
	if m.gateway == nil {
		return nil
	}

	candidates, err := m.positions.ListByStatus(ctx,
		domain.PositionStatusPending, domain.PositionStatusClosing)
	if err != nil {
		return fmt.Errorf("order_monitor: list positions: %w", err)
	}

	var failures int
	for _, pos := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !pos.IsLive() {
			continue
		}
		if err := m.reconcile(ctx, pos); err != nil {
			failures++
			m.logger.ErrorContext(ctx, "order_monitor: reconcile failed",
				slog.String("position_id", pos.ID),
				slog.String("status", string(pos.Status)),
				slog.String("error", err.Error()),
			)
		}
	}

	if failures > 0 {
		return fmt.Errorf("order_monitor: %d of %d positions failed to reconcile", failures, len(candidates))
	}
	return nil
}

func (m *OrderMonitor) reconcile(ctx context.Context, pos *domain.Position) error {
	switch pos.Status {
	case domain.PositionStatusPending:
		return m.reconcileEntry(ctx, pos)
	case domain.PositionStatusClosing:
		return m.reconcileExit(ctx, pos)
	default:
		return nil
	}
}

// reconcileEntry resolves a pending entry order: a fill opens the position,
// a dead order fails it, anything else stays pending.
func (m *OrderMonitor) reconcileEntry(ctx context.Context, pos *domain.Position) error {
	if pos.EntryOrderID == "" {
		pos.Status = domain.PositionStatusFailed
		pos.LastOrderError = "pending position has no entry order"
		return m.update(ctx, pos, domain.PositionStatusPending)
	}

	res, err := m.gateway.GetOrder(ctx, pos.EntryOrderID)
	if err != nil {
		return fmt.Errorf("order_monitor: get entry order %q: %w", pos.EntryOrderID, err)
	}
	m.syncOrderRecord(ctx, pos.EntryOrderID, res)

	pos.EntryOrderStatus = res.Status
	switch {
	case res.Status.IsFilled():
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
		m.logger.InfoContext(ctx, "order_monitor: entry filled",
			slog.String("position_id", pos.ID),
			slog.Float64("shares", pos.SharesFilled),
		)
		return m.update(ctx, pos, domain.PositionStatusPending)

	case res.Status.IsTerminalFailure():
		pos.Status = domain.PositionStatusFailed
		pos.LastOrderError = fmt.Sprintf("entry order %s", res.Status)
		m.logger.WarnContext(ctx, "order_monitor: entry order died",
			slog.String("position_id", pos.ID),
			slog.String("order_status", string(res.Status)),
		)
		return m.update(ctx, pos, domain.PositionStatusPending)

	default:
		// Still working; record the latest status only.
		return m.update(ctx, pos, domain.PositionStatusPending)
	}
}

// reconcileExit resolves a closing exit order. A fill settles the exited
// fraction; a dead order reverts the position to open with the exit order
// fields cleared, so the strategy can decide again on the next cycle.
func (m *OrderMonitor) reconcileExit(ctx context.Context, pos *domain.Position) error {
	if pos.ExitOrderID == "" {
		return m.revertToOpen(ctx, pos, "closing position has no exit order")
	}

	res, err := m.gateway.GetOrder(ctx, pos.ExitOrderID)
	if err != nil {
		return fmt.Errorf("order_monitor: get exit order %q: %w", pos.ExitOrderID, err)
	}
	m.syncOrderRecord(ctx, pos.ExitOrderID, res)

	pos.ExitOrderStatus = res.Status
	switch {
	case res.Status.IsFilled():
		price := pos.CurrentPrice
		if res.AvgPrice != nil && *res.AvgPrice > 0 {
			price = *res.AvgPrice
		}
		return m.svc.Settle(ctx, pos, price, m.exitFraction(ctx, pos), "exit_filled")

	case res.Status.IsTerminalFailure():
		return m.revertToOpen(ctx, pos, fmt.Sprintf("exit order %s", res.Status))

	default:
		return m.update(ctx, pos, domain.PositionStatusClosing)
	}
}

// exitFraction recovers what share of the position the exit order was for,
// falling back to a full exit when the local order record is gone.
func (m *OrderMonitor) exitFraction(ctx context.Context, pos *domain.Position) float64 {
	if pos.SharesFilled <= 0 {
		return 1
	}
	order, err := m.orders.GetByExchangeID(ctx, pos.ExitOrderID)
	if err != nil {
		return 1
	}
	fraction := order.Size / pos.SharesFilled
	if fraction <= 0 || fraction > 1 {
		return 1
	}
	return fraction
}

func (m *OrderMonitor) revertToOpen(ctx context.Context, pos *domain.Position, reason string) error {
	pos.Status = domain.PositionStatusOpen
	pos.ExitOrderID = ""
	pos.ExitOrderStatus = ""
	pos.LastOrderError = reason

	m.logger.WarnContext(ctx, "order_monitor: exit reverted",
		slog.String("position_id", pos.ID),
		slog.String("reason", reason),
	)
	return m.update(ctx, pos, domain.PositionStatusClosing)
}

// update persists a lifecycle transition. A concurrent transition that
// already moved the position past expect is not an error: the other writer
// won and this sweep's view was stale.
func (m *OrderMonitor) update(ctx context.Context, pos *domain.Position, expect domain.PositionStatus) error {
	err := m.positions.UpdateIfStatus(ctx, pos, expect)
	if errors.Is(err, domain.ErrInvalidTransition) {
		m.logger.DebugContext(ctx, "order_monitor: stale transition skipped",
			slog.String("position_id", pos.ID),
			slog.String("expected", string(expect)),
		)
		return nil
	}
	return err
}

// syncOrderRecord mirrors the exchange's order state into the local ledger.
func (m *OrderMonitor) syncOrderRecord(ctx context.Context, exchangeID string, res domain.OrderResult) {
	order, err := m.orders.GetByExchangeID(ctx, exchangeID)
	if err != nil {
		return
	}
	order.Status = res.Status
	order.FilledSize = res.FilledSize
	order.AvgPrice = res.AvgPrice
	if res.Error != "" {
		order.ErrorMessage = res.Error
	}
	if err := m.orders.Update(ctx, order); err != nil {
		m.logger.WarnContext(ctx, "order_monitor: order record update failed",
			slog.String("exchange_id", exchangeID),
			slog.String("error", err.Error()),
		)
	}
}
