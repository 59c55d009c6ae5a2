// Package field implements the Field (cell value) repository using
// PostgreSQL. Value matching is case-sensitive and NULL-aware: a nil value
// only matches a stored NULL, never the empty string.
package field

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// Repo provides field persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new field repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const columns = `id, meta_field_id, record_id, name, value, created_at, updated_at, closed_at`

const getByIDSQL = `SELECT ` + columns + ` FROM fields WHERE id = $1`

// IS NOT DISTINCT FROM makes NULL match NULL while keeping everything else
// a plain case-sensitive comparison.
const getByValueSQL = `SELECT ` + columns + ` FROM fields
WHERE meta_field_id = $1 AND value IS NOT DISTINCT FROM $2 AND closed_at IS NULL`

const listByMetaFieldSQL = `SELECT ` + columns + ` FROM fields
WHERE meta_field_id = $1
ORDER BY value NULLS FIRST`

const listByRecordSQL = `SELECT ` + columns + ` FROM fields
WHERE record_id = $1`

const createSQL = `INSERT INTO fields (id, meta_field_id, record_id, name, value)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + columns

const updateSQL = `UPDATE fields SET value = $2, updated_at = now()
WHERE id = $1
RETURNING ` + columns

const closeSQL = `UPDATE fields SET closed_at = $2, updated_at = $2
WHERE id = $1 AND closed_at IS NULL`

// GetByID returns a field by primary key, closed or not.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Field, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	f, err := scanField(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "field", id)
	}
	return f, nil
}

// GetByValue returns the open field carrying the given value under one
// meta field.
func (r *Repo) GetByValue(ctx context.Context, metaFieldID uuid.UUID, value *string) (*domain.Field, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	f, err := scanField(q.QueryRow(ctx, getByValueSQL, metaFieldID, value))
	if err != nil {
		return nil, postgres.MapError(err, "field", uuid.Nil)
	}
	return f, nil
}

// ListByMetaField returns every field of a meta field, closed ones
// included.
func (r *Repo) ListByMetaField(ctx context.Context, metaFieldID uuid.UUID) ([]domain.Field, error) {
	return r.list(ctx, listByMetaFieldSQL, metaFieldID)
}

// ListByRecord returns the cells of one logical record.
func (r *Repo) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]domain.Field, error) {
	return r.list(ctx, listByRecordSQL, recordID)
}

func (r *Repo) list(ctx context.Context, sql string, arg any) ([]domain.Field, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Field, 0)
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("list fields: %w", err)
		}
		result = append(result, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	return result, nil
}

// Create inserts a new field and returns the persisted row.
func (r *Repo) Create(ctx context.Context, f *domain.Field) (*domain.Field, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	created, err := scanField(q.QueryRow(ctx, createSQL, f.ID, f.MetaFieldID, f.RecordID, f.Name, f.Value))
	if err != nil {
		return nil, postgres.MapError(err, "field", f.ID)
	}
	return created, nil
}

// Update rewrites the value and returns the fresh row.
func (r *Repo) Update(ctx context.Context, f *domain.Field) (*domain.Field, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	updated, err := scanField(q.QueryRow(ctx, updateSQL, f.ID, f.Value))
	if err != nil {
		return nil, postgres.MapError(err, "field", f.ID)
	}
	return updated, nil
}

// Close stamps closed_at. Closing an already closed field is a no-op.
func (r *Repo) Close(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := q.Exec(ctx, closeSQL, id, at); err != nil {
		return postgres.MapError(err, "field", id)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanField(r row) (*domain.Field, error) {
	var f domain.Field
	if err := r.Scan(
		&f.ID, &f.MetaFieldID, &f.RecordID, &f.Name, &f.Value,
		&f.CreatedAt, &f.UpdatedAt, &f.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &f, nil
}
