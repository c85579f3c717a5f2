package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// RuntimeStore implements domain.StrategyRuntimeStore using PostgreSQL.
type RuntimeStore struct {
	pool *pgxpool.Pool
}

// NewRuntimeStore creates a new RuntimeStore backed by the given connection pool.
func NewRuntimeStore(pool *pgxpool.Pool) *RuntimeStore {
	return &RuntimeStore{pool: pool}
}

// Get retrieves the runtime state for a position, or domain.ErrNotFound.
func (s *RuntimeStore) Get(ctx context.Context, positionID string) (*domain.StrategyRuntime, error) {
	const query = `
		SELECT position_id, high_water_mark, fired_exits, legacy_partial, created_at, updated_at
		FROM strategy_runtime WHERE position_id = $1`

	var r domain.StrategyRuntime
	var firedJSON []byte

	err := s.pool.QueryRow(ctx, query, positionID).Scan(
		&r.PositionID, &r.HighWaterMark, &firedJSON, &r.LegacyPartial,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get runtime %s: %w", positionID, err)
	}

	if err := json.Unmarshal(firedJSON, &r.FiredExits); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal fired exits %s: %w", positionID, err)
	}
	return &r, nil
}

// Save upserts the runtime state for a position.
func (s *RuntimeStore) Save(ctx context.Context, r *domain.StrategyRuntime) error {
	fired := r.FiredExits
	if fired == nil {
		fired = []int{}
	}
	firedJSON, err := json.Marshal(fired)
	if err != nil {
		return fmt.Errorf("postgres: marshal fired exits %s: %w", r.PositionID, err)
	}

	const query = `
		INSERT INTO strategy_runtime (position_id, high_water_mark, fired_exits, legacy_partial)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (position_id) DO UPDATE SET
			high_water_mark = EXCLUDED.high_water_mark,
			fired_exits     = EXCLUDED.fired_exits,
			legacy_partial  = EXCLUDED.legacy_partial,
			updated_at      = NOW()`

	if _, err := s.pool.Exec(ctx, query,
		r.PositionID, r.HighWaterMark, firedJSON, r.LegacyPartial); err != nil {
		return fmt.Errorf("postgres: save runtime %s: %w", r.PositionID, err)
	}
	return nil
}

// Delete removes the runtime state for a position. Deleting a missing row is
// not an error; full exits and failed opens both clean up through here.
func (s *RuntimeStore) Delete(ctx context.Context, positionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM strategy_runtime WHERE position_id = $1`, positionID); err != nil {
		return fmt.Errorf("postgres: delete runtime %s: %w", positionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StrategyRuntimeStore = (*RuntimeStore)(nil)
