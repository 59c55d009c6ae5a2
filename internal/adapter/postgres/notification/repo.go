// Package notification implements the aggregated Notification repository
// using PostgreSQL. Upsert leans on INSERT ... ON CONFLICT so that
// concurrent workers incrementing the same (key, window) land on one row;
// ad-hoc queries are composed with squirrel.
package notification

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

// Repo provides notification persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

// New creates a new notification repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const columns = `id, type, rule_set_name, from_group, from_dictionary, to_group, to_dictionary,
       count, window_start, window_end, processing_state, created_at, updated_at`

// The conflict target is the aggregation identity plus the window bucket,
// restricted to PENDING rows. An outcome landing after the bucket was
// processed must open a new pending row, never revive the retired one.
const upsertSQL = `INSERT INTO notifications
    (id, type, rule_set_name, from_group, from_dictionary, to_group, to_dictionary,
     count, window_start, window_end, processing_state)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (type, rule_set_name, from_group, from_dictionary, to_group, to_dictionary, window_start)
    WHERE processing_state = 'PENDING'
DO UPDATE SET count = notifications.count + EXCLUDED.count, updated_at = now()
RETURNING ` + columns

const getByIDSQL = `SELECT ` + columns + ` FROM notifications WHERE id = $1`

const markProcessedSQL = `UPDATE notifications
SET processing_state = 'PROCESSED', updated_at = $2
WHERE id = ANY($1::uuid[]) AND processing_state = 'PENDING'`

// Upsert inserts the notification or atomically adds its count to the
// existing row of the same key and window.
func (r *Repo) Upsert(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	row, err := scanNotification(q.QueryRow(ctx, upsertSQL,
		n.ID, n.Key.Type, n.Key.RuleSetName,
		n.Key.FromGroup, n.Key.FromDictionary, n.Key.ToGroup, n.Key.ToDictionary,
		n.Count, n.WindowStart, n.WindowEnd, n.ProcessingState))
	if err != nil {
		return nil, postgres.MapError(err, "notification", n.ID)
	}
	return row, nil
}

// GetByID returns one notification.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	n, err := scanNotification(q.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "notification", id)
	}
	return n, nil
}

// ListPending returns unprocessed notifications, oldest window first.
func (r *Repo) ListPending(ctx context.Context) ([]domain.Notification, error) {
	return r.FindBy(ctx, Criteria{States: []domain.ProcessingState{domain.ProcessingPending}})
}

// MarkProcessed transitions pending notifications to PROCESSED. Already
// processed ids are skipped.
func (r *Repo) MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := q.Exec(ctx, markProcessedSQL, ids, at); err != nil {
		return postgres.MapError(err, "notification", uuid.Nil)
	}
	return nil
}

// Criteria narrows FindBy. Zero fields do not filter.
type Criteria struct {
	Types       []domain.NotificationType
	States      []domain.ProcessingState
	RuleSetName string
	// WindowFrom / WindowTo bound window_start.
	WindowFrom time.Time
	WindowTo   time.Time
	Limit      uint64
	Offset     uint64
}

// FindBy returns notifications matching the criteria, oldest window
// first.
func (r *Repo) FindBy(ctx context.Context, c Criteria) ([]domain.Notification, error) {
	b := r.sb.Select(
		"id", "type", "rule_set_name", "from_group", "from_dictionary", "to_group", "to_dictionary",
		"count", "window_start", "window_end", "processing_state", "created_at", "updated_at",
	).
		From("notifications").
		OrderBy("window_start", "created_at")

	if len(c.Types) > 0 {
		b = b.Where(sq.Eq{"type": c.Types})
	}
	if len(c.States) > 0 {
		b = b.Where(sq.Eq{"processing_state": c.States})
	}
	if c.RuleSetName != "" {
		b = b.Where(sq.Eq{"rule_set_name": c.RuleSetName})
	}
	if !c.WindowFrom.IsZero() {
		b = b.Where(sq.GtOrEq{"window_start": c.WindowFrom})
	}
	if !c.WindowTo.IsZero() {
		b = b.Where(sq.Lt{"window_start": c.WindowTo})
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

	q := postgres.QuerierFromCtx(ctx, r.pool)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find notifications: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("find notifications: %w", err)
		}
		result = append(result, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find notifications: %w", err)
	}
	return result, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanNotification(r row) (*domain.Notification, error) {
	var n domain.Notification
	if err := r.Scan(
		&n.ID, &n.Key.Type, &n.Key.RuleSetName,
		&n.Key.FromGroup, &n.Key.FromDictionary, &n.Key.ToGroup, &n.Key.ToDictionary,
		&n.Count, &n.WindowStart, &n.WindowEnd, &n.ProcessingState,
		&n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}
