package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
	"github.com/jmonteroh/polysignal/internal/strategy"
)

// StrategyExecutor drives the exit engine: each run it walks the open
// positions, resolves a current price, evaluates the attached exit strategy
// against the persisted runtime state, and turns the verdict into a full or
// partial close. Positions without a price this cycle are skipped, never
// exited blind.
type StrategyExecutor struct {
	positions  domain.PositionStore
	runtimes   domain.StrategyRuntimeStore
	strategies domain.StrategyStore
	cache      domain.PriceCache
	feed       domain.PriceFeed
	svc        *PositionService
	logger     *slog.Logger

	compiled map[int64]compiledStrategy
}

type compiledStrategy struct {
	updatedAt time.Time
	strat     strategy.ExitStrategy
}

// NewStrategyExecutor creates a StrategyExecutor. cache may be nil; prices
// then always come from the feed.
func NewStrategyExecutor(
	positions domain.PositionStore,
	runtimes domain.StrategyRuntimeStore,
	strategies domain.StrategyStore,
	cache domain.PriceCache,
	feed domain.PriceFeed,
	svc *PositionService,
	logger *slog.Logger,
) *StrategyExecutor {
	return &StrategyExecutor{
		positions:  positions,
		runtimes:   runtimes,
		strategies: strategies,
		cache:      cache,
		feed:       feed,
		svc:        svc,
		logger:     logger,
		compiled:   make(map[int64]compiledStrategy),
	}
}

// Run performs one evaluation sweep over all open positions. A failure on
// one position never blocks the rest.
func (e *StrategyExecutor) Run(ctx context.Context) error {
	open, err := e.positions.ListByStatus(ctx, domain.PositionStatusOpen)
	if err != nil {
		return fmt.Errorf("executor: list open positions: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	records, err := e.strategies.List(ctx)
	if err != nil {
		return fmt.Errorf("executor: list strategies: %w", err)
	}
	byID := make(map[int64]*domain.StrategyRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	var failures int
	for _, pos := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.evaluate(ctx, pos, byID); err != nil {
			failures++
			e.logger.ErrorContext(ctx, "executor: evaluation failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if failures > 0 {
		return fmt.Errorf("executor: %d of %d positions failed to evaluate", failures, len(open))
	}
	return nil
}

func (e *StrategyExecutor) evaluate(ctx context.Context, pos *domain.Position, byID map[int64]*domain.StrategyRecord) error {
	price, ok := e.currentPrice(ctx, pos)
	if !ok {
		e.logger.WarnContext(ctx, "executor: no price this cycle, skipping",
			slog.String("position_id", pos.ID),
			slog.String("token_id", pos.TokenID),
		)
		return nil
	}

	rec := byID[pos.StrategyID]
	if pos.StrategyID == 0 || rec == nil || !rec.Enabled {
		return e.svc.RefreshPrice(ctx, pos, price)
	}

	strat, err := e.compile(rec)
	if err != nil {
		return err
	}

	rt, err := e.runtimes.Get(ctx, pos.ID)
	if errors.Is(err, domain.ErrNotFound) {
		rt = &domain.StrategyRuntime{PositionID: pos.ID}
	} else if err != nil {
		return fmt.Errorf("executor: load runtime: %w", err)
	}

	view := strategy.View{
		PositionID: pos.ID,
		Side:       pos.Side,
		Source:     pos.Source,
		EntryPrice: pos.EntryPrice,
		Size:       pos.Size,
		OpenedAt:   pos.OpenedAt,
	}
	decision := strat.Evaluate(view, price, rt)

	// Persist the runtime before acting so a crash between the save and the
	// close can at worst re-evaluate, never re-fire a partial exit after it
	// executed without its bookkeeping.
	if err := e.runtimes.Save(ctx, rt); err != nil {
		return fmt.Errorf("executor: save runtime: %w", err)
	}

	if !decision.Exit {
		return e.svc.RefreshPrice(ctx, pos, price)
	}

	e.logger.InfoContext(ctx, "executor: exit triggered",
		slog.String("position_id", pos.ID),
		slog.String("strategy", strat.Name()),
		slog.String("reason", decision.Reason),
		slog.Float64("fraction", decision.Fraction),
		slog.Float64("price", price),
	)

	err = e.svc.Close(ctx, pos.ID, price, decision.Fraction, decision.Reason)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Another actor moved the position first.
		return nil
	}
	return err
}

// currentPrice resolves the freshest price for a position: the streaming
// cache first, then a REST fallback.
func (e *StrategyExecutor) currentPrice(ctx context.Context, pos *domain.Position) (float64, bool) {
	if pos.TokenID == "" {
		return 0, false
	}
	if e.cache != nil {
		if price, _, err := e.cache.GetPrice(ctx, pos.TokenID); err == nil && price > 0 {
			return price, true
		}
	}
	price, err := e.feed.Price(ctx, pos.TokenID)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// compile returns the executable strategy for a record, reusing the cached
// build until the record changes.
func (e *StrategyExecutor) compile(rec *domain.StrategyRecord) (strategy.ExitStrategy, error) {
	if c, ok := e.compiled[rec.ID]; ok && c.updatedAt.Equal(rec.UpdatedAt) {
		return c.strat, nil
	}
	strat, err := strategy.FromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("executor: compile strategy %d: %w", rec.ID, err)
	}
	e.compiled[rec.ID] = compiledStrategy{updatedAt: rec.UpdatedAt, strat: strat}
	return strat, nil
}
