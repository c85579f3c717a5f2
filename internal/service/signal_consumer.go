package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
)

const (
	signalFetchCount = 10
	signalFetchBlock = 2 * time.Second
)

// SignalConsumer drains trade signals from the bus and turns the acceptable
// ones into position entries. A signal is acknowledged once its outcome is
// final (opened, filtered, rejected, or duplicate); transient failures leave
// it pending for redelivery.
type SignalConsumer struct {
	bus        domain.SignalBus
	settings   domain.SettingsStore
	strategies *StrategyService
	svc        *PositionService
	group      string
	consumer   string
	logger     *slog.Logger
}

// NewSignalConsumer creates a SignalConsumer bound to one consumer-group
// member.
func NewSignalConsumer(
	bus domain.SignalBus,
	settings domain.SettingsStore,
	strategies *StrategyService,
	svc *PositionService,
	group, consumer string,
	logger *slog.Logger,
) *SignalConsumer {
	return &SignalConsumer{
		bus:        bus,
		settings:   settings,
		strategies: strategies,
		svc:        svc,
		group:      group,
		consumer:   consumer,
		logger:     logger,
	}
}

// Run fetches and processes one batch of signals.
func (c *SignalConsumer) Run(ctx context.Context) error {
	envelopes, err := c.bus.Fetch(ctx, c.group, c.consumer, signalFetchCount, signalFetchBlock)
	if err != nil {
		return fmt.Errorf("signal_consumer: fetch: %w", err)
	}
	if len(envelopes) == 0 {
		return nil
	}

	trading, err := c.settings.Trading(ctx)
	if err != nil {
		return fmt.Errorf("signal_consumer: load trading settings: %w", err)
	}

	var done []string
	for _, env := range envelopes {
		if ctx.Err() != nil {
			break
		}
		if c.process(ctx, env.Signal, trading) {
			done = append(done, env.StreamID)
		}
	}

	if len(done) > 0 {
		if err := c.bus.Ack(ctx, c.group, done...); err != nil {
			return fmt.Errorf("signal_consumer: ack: %w", err)
		}
	}
	return nil
}

// process handles one signal and reports whether its outcome is final.
func (c *SignalConsumer) process(ctx context.Context, sig domain.TradeSignal, trading domain.TradingSettings) bool {
	log := c.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("market_id", sig.MarketID),
		slog.String("source", sig.Source),
	)

	if sig.MarketID == "" || sig.Side == "" {
		log.WarnContext(ctx, "signal_consumer: malformed signal dropped")
		return true
	}
	if sig.Confidence < trading.MinConfidence {
		log.InfoContext(ctx, "signal_consumer: signal below confidence threshold",
			slog.Float64("confidence", sig.Confidence),
			slog.Float64("min", trading.MinConfidence),
		)
		return true
	}

	rec, multiplier, err := c.strategies.ForSignal(ctx, sig.Source)
	if err != nil {
		log.ErrorContext(ctx, "signal_consumer: strategy lookup failed",
			slog.String("error", err.Error()),
		)
		return false
	}

	size := trading.DefaultPositionSize * multiplier
	if size > trading.MaxPositionSize {
		size = trading.MaxPositionSize
	}

	req := OpenRequest{Signal: sig, Size: size}
	if rec != nil {
		req.StrategyID = rec.ID
		req.StrategyName = rec.Name
	}

	_, err = c.svc.Open(ctx, req)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrDuplicatePosition):
		// Lost a create race for a market we already hold; the open path
		// normally resolves duplicates to the existing position itself.
		return true
	case errors.Is(err, domain.ErrRiskRejected):
		log.WarnContext(ctx, "signal_consumer: entry rejected by risk checks",
			slog.String("error", err.Error()),
		)
		return true
	default:
		log.ErrorContext(ctx, "signal_consumer: entry failed",
			slog.String("error", err.Error()),
		)
		return false
	}
}
