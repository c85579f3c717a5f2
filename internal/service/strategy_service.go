package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jmonteroh/polysignal/internal/domain"
	"github.com/jmonteroh/polysignal/internal/strategy"
)

// StrategyService manages the stored exit-strategy definitions. Definitions
// are validated by compiling them, so anything the store accepts is something
// the exit engine can execute.
type StrategyService struct {
	strategies domain.StrategyStore
	positions  domain.PositionStore
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewStrategyService creates a StrategyService.
func NewStrategyService(
	strategies domain.StrategyStore,
	positions domain.PositionStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *StrategyService {
	return &StrategyService{
		strategies: strategies,
		positions:  positions,
		audit:      audit,
		logger:     logger,
	}
}

// Create validates and stores a new strategy definition.
func (s *StrategyService) Create(ctx context.Context, rec *domain.StrategyRecord, actor string) error {
	if err := validateStrategy(rec); err != nil {
		return err
	}
	if err := s.strategies.Create(ctx, rec); err != nil {
		return fmt.Errorf("strategy_service: create %q: %w", rec.Name, err)
	}

	s.auditAppend(ctx, "strategy_created", actor, map[string]any{
		"strategy_id": rec.ID,
		"name":        rec.Name,
		"kind":        string(rec.Kind),
	})
	s.logger.InfoContext(ctx, "strategy_service: strategy created",
		slog.Int64("strategy_id", rec.ID),
		slog.String("name", rec.Name),
		slog.String("kind", string(rec.Kind)),
	)
	return nil
}

// Update validates and stores changed strategy parameters. Open positions
// pick up the new parameters on their next evaluation; runtime state
// (trailing peaks, fired partials) is never reset by an update.
func (s *StrategyService) Update(ctx context.Context, rec *domain.StrategyRecord, actor string) error {
	if err := validateStrategy(rec); err != nil {
		return err
	}
	if err := s.strategies.Update(ctx, rec); err != nil {
		return fmt.Errorf("strategy_service: update %d: %w", rec.ID, err)
	}

	s.auditAppend(ctx, "strategy_updated", actor, map[string]any{
		"strategy_id": rec.ID,
		"name":        rec.Name,
		"enabled":     rec.Enabled,
	})
	return nil
}

// Delete removes a strategy definition. Positions still referencing it fall
// back to price refreshes only.
func (s *StrategyService) Delete(ctx context.Context, id int64, actor string) error {
	if err := s.strategies.Delete(ctx, id); err != nil {
		return fmt.Errorf("strategy_service: delete %d: %w", id, err)
	}
	s.auditAppend(ctx, "strategy_deleted", actor, map[string]any{"strategy_id": id})
	return nil
}

// Get returns one strategy definition.
func (s *StrategyService) Get(ctx context.Context, id int64) (*domain.StrategyRecord, error) {
	rec, err := s.strategies.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("strategy_service: get %d: %w", id, err)
	}
	return rec, nil
}

// List returns all strategy definitions.
func (s *StrategyService) List(ctx context.Context) ([]*domain.StrategyRecord, error) {
	records, err := s.strategies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy_service: list: %w", err)
	}
	return records, nil
}

// Overview aggregates position outcomes per strategy.
func (s *StrategyService) Overview(ctx context.Context) ([]domain.StrategyOverview, error) {
	overview, err := s.positions.OverviewByStrategy(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy_service: overview: %w", err)
	}
	return overview, nil
}

// ForSignal picks the strategy and size multiplier to attach to an entry
// from the given source. An enabled advanced strategy with a matching
// per-source override wins; otherwise the first enabled strategy by name;
// otherwise none (the position runs without an exit strategy).
func (s *StrategyService) ForSignal(ctx context.Context, source string) (*domain.StrategyRecord, float64, error) {
	records, err := s.strategies.List(ctx)
	if err != nil {
		return nil, 1, fmt.Errorf("strategy_service: list: %w", err)
	}

	enabled := records[:0:0]
	for _, rec := range records {
		if rec.Enabled {
			enabled = append(enabled, rec)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })

	for _, rec := range enabled {
		if rec.Kind != domain.StrategyKindAdvanced || rec.Advanced == nil {
			continue
		}
		adv := strategy.NewAdvanced(rec.Name, *rec.Advanced)
		if adv.AcceptsSource(source) {
			return rec, adv.SizeMultiplier(source), nil
		}
	}

	if len(enabled) > 0 {
		return enabled[0], 1, nil
	}
	return nil, 1, nil
}

// validateStrategy checks a definition by compiling it plus basic parameter
// sanity the compiler does not enforce.
func validateStrategy(rec *domain.StrategyRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("strategy_service: name required")
	}
	if _, err := strategy.FromRecord(rec); err != nil {
		return err
	}

	switch rec.Kind {
	case domain.StrategyKindCustom:
		if rec.Custom.TakeProfit <= 0 || rec.Custom.StopLoss <= 0 {
			return fmt.Errorf("strategy_service: %s: take_profit and stop_loss must be positive", rec.Name)
		}
	case domain.StrategyKindAdvanced:
		p := rec.Advanced
		if p.TakeProfit <= 0 || p.StopLoss <= 0 {
			return fmt.Errorf("strategy_service: %s: take_profit and stop_loss must be positive", rec.Name)
		}
		if p.Dynamic.Enabled && (p.Dynamic.Base <= p.Dynamic.Tight || p.Dynamic.Threshold < 0 || p.Dynamic.Threshold >= 100) {
			return fmt.Errorf("strategy_service: %s: invalid dynamic trailing parameters", rec.Name)
		}
		if p.Time.Enabled && p.Time.MaxHours <= p.Time.StartHours {
			return fmt.Errorf("strategy_service: %s: time trailing max_hours must exceed start_hours", rec.Name)
		}
		seen := make(map[int]bool, len(p.PartialExits))
		for _, level := range p.PartialExits {
			if level.ExitPercent <= 0 || level.ExitPercent > 100 {
				return fmt.Errorf("strategy_service: %s: partial exit %d percent out of (0, 100]", rec.Name, level.ExitOrder)
			}
			if seen[level.ExitOrder] {
				return fmt.Errorf("strategy_service: %s: duplicate partial exit order %d", rec.Name, level.ExitOrder)
			}
			seen[level.ExitOrder] = true
		}
	}
	return nil
}

func (s *StrategyService) auditAppend(ctx context.Context, action, actor string, detail map[string]any) {
	if err := s.audit.Append(ctx, &domain.AuditEntry{Action: action, Actor: actor, Detail: detail}); err != nil {
		s.logger.WarnContext(ctx, "strategy_service: audit append failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
