package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, position_id, exchange_id, token_id, side, order_type,
	price, size, filled_size, avg_price, status, error_message, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var side, typ, status string

	err := row.Scan(
		&o.ID, &o.PositionID, &o.ExchangeID, &o.TokenID, &side, &typ,
		&o.Price, &o.Size, &o.FilledSize, &o.AvgPrice, &status, &o.ErrorMessage,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o *domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, position_id, exchange_id, token_id, side, order_type,
			price, size, filled_size, avg_price, status, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.PositionID, o.ExchangeID, o.TokenID, string(o.Side), string(o.Type),
		o.Price, o.Size, o.FilledSize, o.AvgPrice, string(o.Status), o.ErrorMessage,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// Get retrieves a single order by its ID.
func (s *OrderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByExchangeID retrieves an order by the id the exchange assigned.
func (s *OrderStore) GetByExchangeID(ctx context.Context, exchangeID string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE exchange_id = $1`, exchangeID)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get order by exchange id %s: %w", exchangeID, err)
	}
	return o, nil
}

// ListByPosition returns all orders for a position, oldest first.
func (s *OrderStore) ListByPosition(ctx context.Context, positionID string) ([]*domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE position_id = $1 ORDER BY created_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", positionID, err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return orders, nil
}

// Update replaces the mutable fields of an order.
func (s *OrderStore) Update(ctx context.Context, o *domain.Order) error {
	const query = `
		UPDATE orders SET
			exchange_id   = $2,
			filled_size   = $3,
			avg_price     = $4,
			status        = $5,
			error_message = $6,
			updated_at    = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.ExchangeID, o.FilledSize, o.AvgPrice, string(o.Status), o.ErrorMessage)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
