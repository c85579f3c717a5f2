package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, signal_id, strategy_id, strategy_name, market_id, token_id,
	market_question, side, source, entry_price, current_price, exit_price, size,
	status, trading_mode, entry_order_id, entry_order_status, exit_order_id,
	exit_order_status, shares_ordered, shares_filled, avg_fill_price, last_order_error,
	unrealized_pnl, unrealized_pnl_percent, realized_pnl, realized_pnl_percent,
	opened_at, closed_at`

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var status, mode string

	err := row.Scan(
		&p.ID, &p.SignalID, &p.StrategyID, &p.StrategyName, &p.MarketID, &p.TokenID,
		&p.MarketQuestion, &p.Side, &p.Source,
		&p.EntryPrice, &p.CurrentPrice, &p.ExitPrice, &p.Size,
		&status, &mode,
		&p.EntryOrderID, (*string)(&p.EntryOrderStatus), &p.ExitOrderID, (*string)(&p.ExitOrderStatus),
		&p.SharesOrdered, &p.SharesFilled, &p.AvgFillPrice, &p.LastOrderError,
		&p.UnrealizedPnL, &p.UnrealizedPnLPercent, &p.RealizedPnL, &p.RealizedPnLPercent,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	p.TradingMode = domain.TradingMode(mode)
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// positionArgs returns the values matching positionUpdateSet / the insert
// column list, excluding the id.
func positionArgs(p *domain.Position) []any {
	return []any{
		p.SignalID, p.StrategyID, p.StrategyName, p.MarketID, p.TokenID,
		p.MarketQuestion, p.Side, p.Source,
		p.EntryPrice, p.CurrentPrice, p.ExitPrice, p.Size,
		string(p.Status), string(p.TradingMode),
		p.EntryOrderID, string(p.EntryOrderStatus), p.ExitOrderID, string(p.ExitOrderStatus),
		p.SharesOrdered, p.SharesFilled, p.AvgFillPrice, p.LastOrderError,
		p.UnrealizedPnL, p.UnrealizedPnLPercent, p.RealizedPnL, p.RealizedPnLPercent,
		p.OpenedAt, p.ClosedAt,
	}
}

const positionUpdateSet = `
	signal_id = $2, strategy_id = $3, strategy_name = $4, market_id = $5, token_id = $6,
	market_question = $7, side = $8, source = $9,
	entry_price = $10, current_price = $11, exit_price = $12, size = $13,
	status = $14, trading_mode = $15,
	entry_order_id = $16, entry_order_status = $17, exit_order_id = $18, exit_order_status = $19,
	shares_ordered = $20, shares_filled = $21, avg_fill_price = $22, last_order_error = $23,
	unrealized_pnl = $24, unrealized_pnl_percent = $25, realized_pnl = $26, realized_pnl_percent = $27,
	opened_at = $28, closed_at = $29,
	updated_at = NOW()`

// Create inserts a new position. The partial unique index on non-terminal
// (market_id, side) rows turns a concurrent duplicate open into
// domain.ErrDuplicatePosition.
func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, signal_id, strategy_id, strategy_name, market_id, token_id,
			market_question, side, source, entry_price, current_price, exit_price, size,
			status, trading_mode, entry_order_id, entry_order_status, exit_order_id,
			exit_order_status, shares_ordered, shares_filled, avg_fill_price, last_order_error,
			unrealized_pnl, unrealized_pnl_percent, realized_pnl, realized_pnl_percent,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, NOW()
		)`

	args := append([]any{p.ID}, positionArgs(p)...)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicatePosition
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Get retrieves a single position by its ID.
func (s *PositionStore) Get(ctx context.Context, id string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByMarket returns the non-terminal position for the given market and
// side, or domain.ErrNotFound.
func (s *PositionStore) GetOpenByMarket(ctx context.Context, marketID, side string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market_id = $1 AND side = $2 AND status IN ('pending', 'open', 'closing')`,
		marketID, side)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get open position %s/%s: %w", marketID, side, err)
	}
	return p, nil
}

// List returns positions matching the filter, newest first.
func (s *PositionStore) List(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(" AND "+clause, argIdx)
		args = append(args, v)
		argIdx++
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.TradingMode != "" {
		add("trading_mode = $%d", string(f.TradingMode))
	}
	if f.MarketID != "" {
		add("market_id = $%d", f.MarketID)
	}
	if f.StrategyID != 0 {
		add("strategy_id = $%d", f.StrategyID)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}

	query += " ORDER BY opened_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListByStatus returns positions in any of the given statuses, oldest first so
// monitors work through the backlog in order.
func (s *PositionStore) ListByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]*domain.Position, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}

	query := `SELECT ` + positionSelectCols + ` FROM positions
		 WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		 ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by status: %w", err)
	}
	return positions, nil
}

// CountByStatus returns the number of positions in the given status.
func (s *PositionStore) CountByStatus(ctx context.Context, status domain.PositionStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count positions %s: %w", status, err)
	}
	return n, nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	query := `UPDATE positions SET` + positionUpdateSet + ` WHERE id = $1`

	args := append([]any{p.ID}, positionArgs(p)...)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateIfStatus writes p only while the stored row still has the expected
// status. A zero rows-affected result means the row either moved on or never
// existed; the caller gets ErrInvalidTransition either way.
func (s *PositionStore) UpdateIfStatus(ctx context.Context, p *domain.Position, expect domain.PositionStatus) error {
	query := `UPDATE positions SET` + positionUpdateSet + ` WHERE id = $1 AND status = $30`

	args := append([]any{p.ID}, positionArgs(p)...)
	args = append(args, string(expect))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s from %s: %w", p.ID, expect, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// OverviewByStrategy aggregates realized outcomes per exit strategy.
func (s *PositionStore) OverviewByStrategy(ctx context.Context) ([]domain.StrategyOverview, error) {
	const query = `
		SELECT strategy_id,
		       MAX(strategy_name),
		       COUNT(*) FILTER (WHERE status IN ('pending', 'open', 'closing')),
		       COUNT(*) FILTER (WHERE status = 'closed'),
		       COALESCE(SUM(realized_pnl) FILTER (WHERE status = 'closed'), 0),
		       COALESCE(
		           COUNT(*) FILTER (WHERE status = 'closed' AND realized_pnl > 0)::float /
		           NULLIF(COUNT(*) FILTER (WHERE status = 'closed'), 0), 0)
		FROM positions
		WHERE strategy_id <> 0
		GROUP BY strategy_id
		ORDER BY strategy_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: strategy overview: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyOverview
	for rows.Next() {
		var o domain.StrategyOverview
		if err := rows.Scan(&o.StrategyID, &o.StrategyName, &o.OpenPositions,
			&o.ClosedPositions, &o.RealizedPnL, &o.WinRate); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy overview: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: strategy overview rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
