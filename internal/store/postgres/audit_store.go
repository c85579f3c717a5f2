package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. The detail map is
// stored as JSONB.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append inserts a new audit entry and populates its generated ID and
// timestamp.
func (s *AuditStore) Append(ctx context.Context, e *domain.AuditEntry) error {
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	actor := e.Actor
	if actor == "" {
		actor = "bot"
	}

	const query = `
		INSERT INTO audit_log (action, actor, detail) VALUES ($1, $2, $3)
		RETURNING id, created_at`
	err = s.pool.QueryRow(ctx, query, e.Action, actor, detailJSON).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append audit %s: %w", e.Action, err)
	}
	e.Actor = actor
	return nil
}

// ListRecent returns the newest audit entries, newest first.
func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	return s.list(ctx,
		`SELECT id, action, actor, detail, created_at FROM audit_log
		 ORDER BY created_at DESC LIMIT $1`, limit)
}

// ListSince returns audit entries created at or after since, newest first.
func (s *AuditStore) ListSince(ctx context.Context, since time.Time, limit int) ([]*domain.AuditEntry, error) {
	return s.list(ctx,
		`SELECT id, action, actor, detail, created_at FROM audit_log
		 WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2`, since, limit)
}

func (s *AuditStore) list(ctx context.Context, query string, args ...any) ([]*domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditRows(rows pgx.Rows) ([]*domain.AuditEntry, error) {
	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &detailJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail %d: %w", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
