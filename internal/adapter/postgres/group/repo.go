// Package group implements the Group repository using PostgreSQL.
package group

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// Repo provides group persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new group repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const columns = `id, name, owner, permission, created_at, updated_at, closed_at`

const getByIDSQL = `SELECT ` + columns + ` FROM groups WHERE id = $1`

// Name matching is case-insensitive; only open groups resolve by name so a
// closed group's name can be reused.
const getByNameSQL = `SELECT ` + columns + ` FROM groups
WHERE lower(name) = $1 AND closed_at IS NULL`

const listSQL = `SELECT ` + columns + ` FROM groups ORDER BY name`

const createSQL = `INSERT INTO groups (id, name, owner, permission)
VALUES ($1, $2, $3, $4)
RETURNING ` + columns

const updateSQL = `UPDATE groups
SET name = $2, owner = $3, permission = $4, updated_at = now()
WHERE id = $1
RETURNING ` + columns

const closeSQL = `UPDATE groups SET closed_at = $2, updated_at = $2
WHERE id = $1 AND closed_at IS NULL`

// GetByID returns a group by primary key, closed or not.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Group, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	g, err := scanGroup(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "group", id)
	}
	return g, nil
}

// GetByName returns the open group with the given normalized name.
func (r *Repo) GetByName(ctx context.Context, normalizedName string) (*domain.Group, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	g, err := scanGroup(q.QueryRow(ctx, getByNameSQL, normalizedName))
	if err != nil {
		return nil, postgres.MapError(err, "group", uuid.Nil)
	}
	return g, nil
}

// List returns all groups ordered by name, closed ones included.
func (r *Repo) List(ctx context.Context) ([]domain.Group, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}
		result = append(result, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return result, nil
}

// Create inserts a new group and returns the persisted row.
func (r *Repo) Create(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	g, err := scanGroup(q.QueryRow(ctx, createSQL, group.ID, group.Name, group.Owner, group.Permission))
	if err != nil {
		return nil, postgres.MapError(err, "group", group.ID)
	}
	return g, nil
}

// Update rewrites the mutable columns and returns the fresh row.
func (r *Repo) Update(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	g, err := scanGroup(q.QueryRow(ctx, updateSQL, group.ID, group.Name, group.Owner, group.Permission))
	if err != nil {
		return nil, postgres.MapError(err, "group", group.ID)
	}
	return g, nil
}

// Close stamps closed_at. Closing an already closed group is a no-op.
func (r *Repo) Close(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := q.Exec(ctx, closeSQL, id, at); err != nil {
		return postgres.MapError(err, "group", id)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanGroup(r row) (*domain.Group, error) {
	var g domain.Group
	if err := r.Scan(&g.ID, &g.Name, &g.Owner, &g.Permission, &g.CreatedAt, &g.UpdatedAt, &g.ClosedAt); err != nil {
		return nil, err
	}
	return &g, nil
}
