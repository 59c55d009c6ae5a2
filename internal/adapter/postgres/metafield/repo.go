// Package metafield implements the MetaField repository using PostgreSQL.
package metafield

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// Repo provides meta field persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new meta field repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const selectSQL = `
SELECT m.id, m.dictionary_id, g.name, d.name, m.name, m.ordinal, m.flags,
       m.created_at, m.updated_at, m.closed_at
FROM meta_fields m
JOIN dictionaries d ON d.id = m.dictionary_id
JOIN groups g ON g.id = d.group_id`

const getByIDSQL = selectSQL + `
WHERE m.id = $1`

const getByNameSQL = selectSQL + `
WHERE m.dictionary_id = $1 AND lower(m.name) = $2 AND m.closed_at IS NULL`

const listByDictionarySQL = selectSQL + `
WHERE m.dictionary_id = $1
ORDER BY m.ordinal, m.name`

const createSQL = `
WITH ins AS (
    INSERT INTO meta_fields (id, dictionary_id, name, ordinal, flags)
    VALUES ($1, $2, $3, $4, $5)
    RETURNING id, dictionary_id, name, ordinal, flags, created_at, updated_at, closed_at
)
SELECT ins.id, ins.dictionary_id, g.name, d.name, ins.name, ins.ordinal, ins.flags,
       ins.created_at, ins.updated_at, ins.closed_at
FROM ins
JOIN dictionaries d ON d.id = ins.dictionary_id
JOIN groups g ON g.id = d.group_id`

const updateSQL = `
WITH upd AS (
    UPDATE meta_fields
    SET name = $2, ordinal = $3, flags = $4, updated_at = now()
    WHERE id = $1
    RETURNING id, dictionary_id, name, ordinal, flags, created_at, updated_at, closed_at
)
SELECT upd.id, upd.dictionary_id, g.name, d.name, upd.name, upd.ordinal, upd.flags,
       upd.created_at, upd.updated_at, upd.closed_at
FROM upd
JOIN dictionaries d ON d.id = upd.dictionary_id
JOIN groups g ON g.id = d.group_id`

const closeSQL = `UPDATE meta_fields SET closed_at = $2, updated_at = $2
WHERE id = $1 AND closed_at IS NULL`

// GetByID returns a meta field by primary key, closed or not.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.MetaField, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	m, err := scanMetaField(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "meta_field", id)
	}
	return m, nil
}

// GetByName returns the open meta field with the given normalized name
// inside one dictionary.
func (r *Repo) GetByName(ctx context.Context, dictionaryID uuid.UUID, normalizedName string) (*domain.MetaField, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	m, err := scanMetaField(q.QueryRow(ctx, getByNameSQL, dictionaryID, normalizedName))
	if err != nil {
		return nil, postgres.MapError(err, "meta_field", uuid.Nil)
	}
	return m, nil
}

// ListByDictionary returns the dictionary's meta fields in column order,
// closed ones included.
func (r *Repo) ListByDictionary(ctx context.Context, dictionaryID uuid.UUID) ([]domain.MetaField, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listByDictionarySQL, dictionaryID)
	if err != nil {
		return nil, fmt.Errorf("list meta fields: %w", err)
	}
	defer rows.Close()

	result := make([]domain.MetaField, 0)
	for rows.Next() {
		m, err := scanMetaField(rows)
		if err != nil {
			return nil, fmt.Errorf("list meta fields: %w", err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list meta fields: %w", err)
	}
	return result, nil
}

// Create inserts a new meta field and returns the persisted row.
func (r *Repo) Create(ctx context.Context, mf *domain.MetaField) (*domain.MetaField, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	m, err := scanMetaField(q.QueryRow(ctx, createSQL, mf.ID, mf.DictionaryID, mf.Name, mf.Ordinal, mf.Flags))
	if err != nil {
		return nil, postgres.MapError(err, "meta_field", mf.ID)
	}
	return m, nil
}

// Update rewrites the mutable columns and returns the fresh row.
func (r *Repo) Update(ctx context.Context, mf *domain.MetaField) (*domain.MetaField, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	m, err := scanMetaField(q.QueryRow(ctx, updateSQL, mf.ID, mf.Name, mf.Ordinal, mf.Flags))
	if err != nil {
		return nil, postgres.MapError(err, "meta_field", mf.ID)
	}
	return m, nil
}

// Close stamps closed_at. Closing an already closed meta field is a no-op.
func (r *Repo) Close(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := q.Exec(ctx, closeSQL, id, at); err != nil {
		return postgres.MapError(err, "meta_field", id)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanMetaField(r row) (*domain.MetaField, error) {
	var m domain.MetaField
	if err := r.Scan(
		&m.ID, &m.DictionaryID, &m.GroupName, &m.DictionaryName, &m.Name, &m.Ordinal, &m.Flags,
		&m.CreatedAt, &m.UpdatedAt, &m.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}
