// Package ruleset implements the RecodeRuleSet repository using PostgreSQL.
// A partial unique index guarantees at most one ACTIVE set per ordered
// (from, to) meta field pair; the resolver relies on that invariant.
package ruleset

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// Repo provides rule set persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

// New creates a new rule set repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const columns = `id, name, from_meta_field_id, to_meta_field_id, default_field_id,
       state, created_at, updated_at, closed_at`

const getByIDSQL = `SELECT ` + columns + ` FROM recode_rule_sets WHERE id = $1`

const getActiveByPairSQL = `SELECT ` + columns + ` FROM recode_rule_sets
WHERE from_meta_field_id = $1 AND to_meta_field_id = $2 AND state = 'ACTIVE'`

const listActiveSQL = `SELECT ` + columns + ` FROM recode_rule_sets
WHERE state = 'ACTIVE'
ORDER BY name`

const listActiveByFromSQL = `SELECT ` + columns + ` FROM recode_rule_sets
WHERE from_meta_field_id = ANY($1::uuid[]) AND state = 'ACTIVE'
ORDER BY name`

const listActiveByAnySideSQL = `SELECT ` + columns + ` FROM recode_rule_sets
WHERE (from_meta_field_id = ANY($1::uuid[]) OR to_meta_field_id = ANY($1::uuid[]))
  AND state = 'ACTIVE'
ORDER BY name`

const createSQL = `INSERT INTO recode_rule_sets
    (id, name, from_meta_field_id, to_meta_field_id, default_field_id, state)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + columns

const updateSQL = `UPDATE recode_rule_sets
SET name = $2, default_field_id = $3, updated_at = now()
WHERE id = $1
RETURNING ` + columns

const closeSQL = `UPDATE recode_rule_sets
SET state = 'CLOSED', closed_at = $2, updated_at = $2
WHERE id = ANY($1::uuid[]) AND state = 'ACTIVE'`

// GetByID returns a rule set by primary key, closed or not.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	set, err := scanRuleSet(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "rule_set", id)
	}
	return set, nil
}

// GetActiveByPair returns the single active set for an ordered meta field
// pair.
func (r *Repo) GetActiveByPair(ctx context.Context, fromMetaFieldID, toMetaFieldID uuid.UUID) (*domain.RecodeRuleSet, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	set, err := scanRuleSet(q.QueryRow(ctx, getActiveByPairSQL, fromMetaFieldID, toMetaFieldID))
	if err != nil {
		return nil, postgres.MapError(err, "rule_set", uuid.Nil)
	}
	return set, nil
}

// ListActive returns every active rule set.
func (r *Repo) ListActive(ctx context.Context) ([]domain.RecodeRuleSet, error) {
	return r.list(ctx, listActiveSQL)
}

// ListActiveByFromMetaFields returns the active sets whose source is one
// of the given meta fields.
func (r *Repo) ListActiveByFromMetaFields(ctx context.Context, metaFieldIDs []uuid.UUID) ([]domain.RecodeRuleSet, error) {
	if len(metaFieldIDs) == 0 {
		return []domain.RecodeRuleSet{}, nil
	}
	return r.list(ctx, listActiveByFromSQL, metaFieldIDs)
}

// ListActiveByMetaFields returns the active sets referencing one of the
// given meta fields on either side.
func (r *Repo) ListActiveByMetaFields(ctx context.Context, metaFieldIDs []uuid.UUID) ([]domain.RecodeRuleSet, error) {
	if len(metaFieldIDs) == 0 {
		return []domain.RecodeRuleSet{}, nil
	}
	return r.list(ctx, listActiveByAnySideSQL, metaFieldIDs)
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]domain.RecodeRuleSet, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list rule sets: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RecodeRuleSet, 0)
	for rows.Next() {
		set, err := scanRuleSet(rows)
		if err != nil {
			return nil, fmt.Errorf("list rule sets: %w", err)
		}
		result = append(result, *set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rule sets: %w", err)
	}
	return result, nil
}

// Criteria narrows FindBy. Zero fields do not filter.
type Criteria struct {
	States           []domain.RuleState
	Name             string
	FromMetaFieldIDs []uuid.UUID
	ToMetaFieldIDs   []uuid.UUID
	Limit            uint64
	Offset           uint64
}

// FindBy returns rule sets matching the criteria, ordered by name.
func (r *Repo) FindBy(ctx context.Context, c Criteria) ([]domain.RecodeRuleSet, error) {
	b := r.sb.Select(
		"id", "name", "from_meta_field_id", "to_meta_field_id", "default_field_id",
		"state", "created_at", "updated_at", "closed_at",
	).
		From("recode_rule_sets").
		OrderBy("name")

	if len(c.States) > 0 {
		b = b.Where(sq.Eq{"state": c.States})
	}
	if c.Name != "" {
		b = b.Where(sq.Eq{"name": c.Name})
	}
	if len(c.FromMetaFieldIDs) > 0 {
		b = b.Where(sq.Eq{"from_meta_field_id": c.FromMetaFieldIDs})
	}
	if len(c.ToMetaFieldIDs) > 0 {
		b = b.Where(sq.Eq{"to_meta_field_id": c.ToMetaFieldIDs})
	}
	if c.Limit > 0 {
		b = b.Limit(c.Limit)
	}
	if c.Offset > 0 {
		b = b.Offset(c.Offset)
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.list(ctx, sql, args...)
}

// Create inserts a new rule set. The partial unique index turns a second
// active set for the same pair into domain.ErrAlreadyExists.
func (r *Repo) Create(ctx context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	created, err := scanRuleSet(q.QueryRow(ctx, createSQL,
		set.ID, set.Name, set.FromMetaFieldID, set.ToMetaFieldID, set.DefaultFieldID, set.State))
	if err != nil {
		return nil, postgres.MapError(err, "rule_set", set.ID)
	}
	return created, nil
}

// Update rewrites name and default target and returns the fresh row.
func (r *Repo) Update(ctx context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	updated, err := scanRuleSet(q.QueryRow(ctx, updateSQL, set.ID, set.Name, set.DefaultFieldID))
	if err != nil {
		return nil, postgres.MapError(err, "rule_set", set.ID)
	}
	return updated, nil
}

// Close transitions the sets to CLOSED. Already closed ids are skipped,
// which keeps cascades idempotent.
func (r *Repo) Close(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := q.Exec(ctx, closeSQL, ids, at); err != nil {
		return postgres.MapError(err, "rule_set", uuid.Nil)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanRuleSet(r row) (*domain.RecodeRuleSet, error) {
	var set domain.RecodeRuleSet
	if err := r.Scan(
		&set.ID, &set.Name, &set.FromMetaFieldID, &set.ToMetaFieldID, &set.DefaultFieldID,
		&set.State, &set.CreatedAt, &set.UpdatedAt, &set.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &set, nil
}
