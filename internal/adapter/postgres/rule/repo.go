// Package rule implements the RecodeRule repository using PostgreSQL.
package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// Repo provides rule persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new rule repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const columns = `id, rule_set_id, from_field_id, to_field_id, state, created_at, updated_at, closed_at`

const getByIDSQL = `SELECT ` + columns + ` FROM recode_rules WHERE id = $1`

const listActiveByRuleSetSQL = `SELECT ` + columns + ` FROM recode_rules
WHERE rule_set_id = $1 AND state = 'ACTIVE'
ORDER BY created_at, id`

const listActiveByRuleSetsSQL = `SELECT ` + columns + ` FROM recode_rules
WHERE rule_set_id = ANY($1::uuid[]) AND state = 'ACTIVE'
ORDER BY created_at, id`

const listActiveByFieldsSQL = `SELECT ` + columns + ` FROM recode_rules
WHERE (from_field_id = ANY($1::uuid[]) OR to_field_id = ANY($1::uuid[]))
  AND state = 'ACTIVE'
ORDER BY created_at, id`

const createSQL = `INSERT INTO recode_rules (id, rule_set_id, from_field_id, to_field_id, state)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + columns

const updateSQL = `UPDATE recode_rules
SET from_field_id = $2, to_field_id = $3, updated_at = now()
WHERE id = $1
RETURNING ` + columns

const closeSQL = `UPDATE recode_rules
SET state = 'CLOSED', closed_at = $2, updated_at = $2
WHERE id = ANY($1::uuid[]) AND state = 'ACTIVE'`

// GetByID returns a rule by primary key, closed or not.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecodeRule, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rule, err := scanRule(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "rule", id)
	}
	return rule, nil
}

// ListActiveByRuleSet returns the active rules of one set in creation
// order.
func (r *Repo) ListActiveByRuleSet(ctx context.Context, ruleSetID uuid.UUID) ([]domain.RecodeRule, error) {
	return r.list(ctx, listActiveByRuleSetSQL, ruleSetID)
}

// ListActiveByRuleSets returns the active rules of several sets.
func (r *Repo) ListActiveByRuleSets(ctx context.Context, ruleSetIDs []uuid.UUID) ([]domain.RecodeRule, error) {
	if len(ruleSetIDs) == 0 {
		return []domain.RecodeRule{}, nil
	}
	return r.list(ctx, listActiveByRuleSetsSQL, ruleSetIDs)
}

// ListActiveByFields returns the active rules keyed to any of the fields,
// as source or target.
func (r *Repo) ListActiveByFields(ctx context.Context, fieldIDs []uuid.UUID) ([]domain.RecodeRule, error) {
	if len(fieldIDs) == 0 {
		return []domain.RecodeRule{}, nil
	}
	return r.list(ctx, listActiveByFieldsSQL, fieldIDs)
}

func (r *Repo) list(ctx context.Context, sql string, arg any) ([]domain.RecodeRule, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RecodeRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("list rules: %w", err)
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return result, nil
}

// Create inserts a new rule and returns the persisted row.
func (r *Repo) Create(ctx context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	created, err := scanRule(q.QueryRow(ctx, createSQL,
		rule.ID, rule.RuleSetID, rule.FromFieldID, rule.ToFieldID, rule.State))
	if err != nil {
		return nil, postgres.MapError(err, "rule", rule.ID)
	}
	return created, nil
}

// Update rewrites the field pair and returns the fresh row.
func (r *Repo) Update(ctx context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	updated, err := scanRule(q.QueryRow(ctx, updateSQL, rule.ID, rule.FromFieldID, rule.ToFieldID))
	if err != nil {
		return nil, postgres.MapError(err, "rule", rule.ID)
	}
	return updated, nil
}

// Close transitions the rules to CLOSED. Already closed ids are skipped.
func (r *Repo) Close(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := q.Exec(ctx, closeSQL, ids, at); err != nil {
		return postgres.MapError(err, "rule", uuid.Nil)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanRule(r row) (*domain.RecodeRule, error) {
	var rule domain.RecodeRule
	if err := r.Scan(
		&rule.ID, &rule.RuleSetID, &rule.FromFieldID, &rule.ToFieldID,
		&rule.State, &rule.CreatedAt, &rule.UpdatedAt, &rule.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &rule, nil
}
