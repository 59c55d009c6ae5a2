// Package dictionary implements the Dictionary repository using PostgreSQL.
// Reads join groups to denormalize the group name into the domain entity,
// which NamedPath rendering needs.
package dictionary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// Repo provides dictionary persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new dictionary repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const selectSQL = `
SELECT d.id, d.group_id, g.name, d.name, d.description, d.created_at, d.updated_at, d.closed_at
FROM dictionaries d
JOIN groups g ON g.id = d.group_id`

const getByIDSQL = selectSQL + `
WHERE d.id = $1`

const getByNameSQL = selectSQL + `
WHERE d.group_id = $1 AND lower(d.name) = $2 AND d.closed_at IS NULL`

const listByGroupSQL = selectSQL + `
WHERE d.group_id = $1
ORDER BY d.name`

const createSQL = `
WITH ins AS (
    INSERT INTO dictionaries (id, group_id, name, description)
    VALUES ($1, $2, $3, $4)
    RETURNING id, group_id, name, description, created_at, updated_at, closed_at
)
SELECT ins.id, ins.group_id, g.name, ins.name, ins.description, ins.created_at, ins.updated_at, ins.closed_at
FROM ins JOIN groups g ON g.id = ins.group_id`

const updateSQL = `
WITH upd AS (
    UPDATE dictionaries
    SET name = $2, description = $3, updated_at = now()
    WHERE id = $1
    RETURNING id, group_id, name, description, created_at, updated_at, closed_at
)
SELECT upd.id, upd.group_id, g.name, upd.name, upd.description, upd.created_at, upd.updated_at, upd.closed_at
FROM upd JOIN groups g ON g.id = upd.group_id`

const closeSQL = `UPDATE dictionaries SET closed_at = $2, updated_at = $2
WHERE id = $1 AND closed_at IS NULL`

// GetByID returns a dictionary by primary key, closed or not.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dictionary, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	d, err := scanDictionary(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "dictionary", id)
	}
	return d, nil
}

// GetByName returns the open dictionary with the given normalized name
// inside one group.
func (r *Repo) GetByName(ctx context.Context, groupID uuid.UUID, normalizedName string) (*domain.Dictionary, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	d, err := scanDictionary(q.QueryRow(ctx, getByNameSQL, groupID, normalizedName))
	if err != nil {
		return nil, postgres.MapError(err, "dictionary", uuid.Nil)
	}
	return d, nil
}

// ListByGroup returns the group's dictionaries ordered by name, closed
// ones included; callers filter by IsClosed when they need live rows only.
func (r *Repo) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Dictionary, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listByGroupSQL, groupID)
	if err != nil {
		return nil, fmt.Errorf("list dictionaries: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Dictionary, 0)
	for rows.Next() {
		d, err := scanDictionary(rows)
		if err != nil {
			return nil, fmt.Errorf("list dictionaries: %w", err)
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dictionaries: %w", err)
	}
	return result, nil
}

// Create inserts a new dictionary and returns the persisted row.
func (r *Repo) Create(ctx context.Context, dict *domain.Dictionary) (*domain.Dictionary, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	d, err := scanDictionary(q.QueryRow(ctx, createSQL, dict.ID, dict.GroupID, dict.Name, dict.Description))
	if err != nil {
		return nil, postgres.MapError(err, "dictionary", dict.ID)
	}
	return d, nil
}

// Update rewrites name and description and returns the fresh row.
func (r *Repo) Update(ctx context.Context, dict *domain.Dictionary) (*domain.Dictionary, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	d, err := scanDictionary(q.QueryRow(ctx, updateSQL, dict.ID, dict.Name, dict.Description))
	if err != nil {
		return nil, postgres.MapError(err, "dictionary", dict.ID)
	}
	return d, nil
}

// Close stamps closed_at. Closing an already closed dictionary is a no-op.
func (r *Repo) Close(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := q.Exec(ctx, closeSQL, id, at); err != nil {
		return postgres.MapError(err, "dictionary", id)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanDictionary(r row) (*domain.Dictionary, error) {
	var d domain.Dictionary
	if err := r.Scan(
		&d.ID, &d.GroupID, &d.GroupName, &d.Name, &d.Description,
		&d.CreatedAt, &d.UpdatedAt, &d.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}
