// Package history implements the append-only History repository using
// PostgreSQL. Diffs are stored as a jsonb document; a unique index on
// (target_id, event_type, event_date) backs the dedup check.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// Repo provides history persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new history repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const columns = `id, target_id, target_type, event_type, event_date, event_author, diffs`

const createSQL = `INSERT INTO history (id, target_id, target_type, event_type, event_date, event_author, diffs)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + columns

const existsSQL = `SELECT EXISTS (
    SELECT 1 FROM history
    WHERE target_id = $1 AND event_type = $2 AND event_date = $3
)`

const listByTargetSQL = `SELECT ` + columns + ` FROM history
WHERE target_id = $1
ORDER BY event_date DESC, id
LIMIT $2`

// Create appends one record. A concurrent duplicate of the same
// (target, event type, event date) surfaces as domain.ErrAlreadyExists.
func (r *Repo) Create(ctx context.Context, record domain.History) (domain.History, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	diffs, err := json.Marshal(record.Diffs)
	if err != nil {
		return domain.History{}, fmt.Errorf("marshal diffs: %w", err)
	}

	created, err := scanHistory(q.QueryRow(ctx, createSQL,
		record.ID, record.TargetID, record.TargetType, record.EventType,
		record.EventDate, record.EventAuthor, diffs))
	if err != nil {
		return domain.History{}, postgres.MapError(err, "history", record.ID)
	}
	return *created, nil
}

// Exists reports whether an equal event was already recorded.
func (r *Repo) Exists(ctx context.Context, targetID uuid.UUID, eventType domain.EventType, eventDate time.Time) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	var exists bool
	if err := q.QueryRow(ctx, existsSQL, targetID, eventType, eventDate).Scan(&exists); err != nil {
		return false, fmt.Errorf("history exists: %w", err)
	}
	return exists, nil
}

// ListByTarget returns the newest records of one entity, most recent
// first. limit <= 0 falls back to 100.
func (r *Repo) ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]domain.History, error) {
	if limit <= 0 {
		limit = 100
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listByTargetSQL, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	result := make([]domain.History, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("list history: %w", err)
		}
		result = append(result, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return result, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanHistory(r row) (*domain.History, error) {
	var (
		h     domain.History
		diffs []byte
	)
	if err := r.Scan(
		&h.ID, &h.TargetID, &h.TargetType, &h.EventType,
		&h.EventDate, &h.EventAuthor, &diffs,
	); err != nil {
		return nil, err
	}
	if len(diffs) > 0 {
		if err := json.Unmarshal(diffs, &h.Diffs); err != nil {
			return nil, fmt.Errorf("unmarshal diffs: %w", err)
		}
	}
	return &h, nil
}
