// Package task implements the TaskExecution repository using PostgreSQL.
// Parameters and result maps are stored as jsonb.
package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// Repo provides task execution persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new task execution repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const columns = `id, performer, identity_key, parameters, status, submitted_at, started_at, finished_at, result`

const createSQL = `INSERT INTO task_executions
    (id, performer, identity_key, parameters, status, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + columns

const updateSQL = `UPDATE task_executions
SET status = $2, started_at = $3, finished_at = $4, result = $5
WHERE id = $1
RETURNING ` + columns

const getByIDSQL = `SELECT ` + columns + ` FROM task_executions WHERE id = $1`

const listByPerformerSQL = `SELECT ` + columns + ` FROM task_executions
WHERE performer = $1
ORDER BY submitted_at DESC
LIMIT $2`

// Create persists a freshly submitted execution.
func (r *Repo) Create(ctx context.Context, exec *domain.TaskExecution) (*domain.TaskExecution, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	params, err := json.Marshal(exec.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	created, err := scanExecution(q.QueryRow(ctx, createSQL,
		exec.ID, exec.Performer, exec.IdentityKey, params, exec.Status, exec.SubmittedAt))
	if err != nil {
		return nil, postgres.MapError(err, "task_execution", exec.ID)
	}
	return created, nil
}

// Update rewrites the status columns after a transition.
func (r *Repo) Update(ctx context.Context, exec *domain.TaskExecution) (*domain.TaskExecution, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	result, err := json.Marshal(exec.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	updated, err := scanExecution(q.QueryRow(ctx, updateSQL,
		exec.ID, exec.Status, exec.StartedAt, exec.FinishedAt, result))
	if err != nil {
		return nil, postgres.MapError(err, "task_execution", exec.ID)
	}
	return updated, nil
}

// GetByID returns one execution.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	exec, err := scanExecution(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "task_execution", id)
	}
	return exec, nil
}

// ListByPerformer returns the newest executions of one performer.
// limit <= 0 falls back to 50.
func (r *Repo) ListByPerformer(ctx context.Context, performer string, limit int) ([]domain.TaskExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := q.Query(ctx, listByPerformerSQL, performer, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.TaskExecution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}
		result = append(result, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return result, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanExecution(r row) (*domain.TaskExecution, error) {
	var (
		exec   domain.TaskExecution
		params []byte
		result []byte
	)
	if err := r.Scan(
		&exec.ID, &exec.Performer, &exec.IdentityKey, &params, &exec.Status,
		&exec.SubmittedAt, &exec.StartedAt, &exec.FinishedAt, &result,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &exec.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &exec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &exec, nil
}
