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

// StrategyStore implements domain.StrategyStore using PostgreSQL. Parameters
// are stored as a JSONB document whose shape depends on the strategy kind.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// strategyParams is the JSONB envelope holding kind-specific parameters.
type strategyParams struct {
	Custom   *domain.CustomParams   `json:"custom,omitempty"`
	Advanced *domain.AdvancedParams `json:"advanced,omitempty"`
}

func marshalParams(s *domain.StrategyRecord) ([]byte, error) {
	data, err := json.Marshal(strategyParams{Custom: s.Custom, Advanced: s.Advanced})
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal strategy params %s: %w", s.Name, err)
	}
	return data, nil
}

func scanStrategy(row pgx.Row) (*domain.StrategyRecord, error) {
	var s domain.StrategyRecord
	var kind string
	var paramsJSON []byte

	err := row.Scan(&s.ID, &s.Name, &s.Description, &kind, &s.Enabled,
		&paramsJSON, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Kind = domain.StrategyKind(kind)

	var params strategyParams
	if err := json.Unmarshal(paramsJSON, &params); err != nil {
		return nil, fmt.Errorf("unmarshal strategy params %s: %w", s.Name, err)
	}
	s.Custom = params.Custom
	s.Advanced = params.Advanced
	return &s, nil
}

const strategySelectCols = `id, name, description, kind, enabled, params, created_at, updated_at`

// Create inserts a new strategy and populates its generated ID.
func (s *StrategyStore) Create(ctx context.Context, rec *domain.StrategyRecord) error {
	params, err := marshalParams(rec)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO strategies (name, description, kind, enabled, params)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err = s.pool.QueryRow(ctx, query,
		rec.Name, rec.Description, string(rec.Kind), rec.Enabled, params,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create strategy %s: %w", rec.Name, err)
	}
	return nil
}

// Get retrieves a strategy by its ID.
func (s *StrategyStore) Get(ctx context.Context, id int64) (*domain.StrategyRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategySelectCols+` FROM strategies WHERE id = $1`, id)

	rec, err := scanStrategy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get strategy %d: %w", id, err)
	}
	return rec, nil
}

// GetByName retrieves a strategy by its unique name.
func (s *StrategyStore) GetByName(ctx context.Context, name string) (*domain.StrategyRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategySelectCols+` FROM strategies WHERE name = $1`, name)

	rec, err := scanStrategy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get strategy %s: %w", name, err)
	}
	return rec, nil
}

// List returns all strategies ordered by ID.
func (s *StrategyStore) List(ctx context.Context) ([]*domain.StrategyRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strategySelectCols+` FROM strategies ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []*domain.StrategyRecord
	for rows.Next() {
		rec, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategies rows: %w", err)
	}
	return out, nil
}

// Update replaces the mutable fields of a strategy.
func (s *StrategyStore) Update(ctx context.Context, rec *domain.StrategyRecord) error {
	params, err := marshalParams(rec)
	if err != nil {
		return err
	}

	const query = `
		UPDATE strategies SET
			name        = $2,
			description = $3,
			kind        = $4,
			enabled     = $5,
			params      = $6,
			updated_at  = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Name, rec.Description, string(rec.Kind), rec.Enabled, params)
	if err != nil {
		return fmt.Errorf("postgres: update strategy %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a strategy. Positions keep their strategy_id; the executor
// treats a missing strategy like none attached.
func (s *StrategyStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete strategy %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)
