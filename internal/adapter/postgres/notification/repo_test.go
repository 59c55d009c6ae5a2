package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeenkov/recodehub/internal/adapter/postgres/notification"
	"github.com/avdeenkov/recodehub/internal/adapter/postgres/testhelper"
	"github.com/avdeenkov/recodehub/internal/domain"
)

// The container is shared across the package, so every test scopes its
// queries by a unique rule set name.
func pendingNotification(ruleSetName string, windowStart time.Time) *domain.Notification {
	return &domain.Notification{
		ID: uuid.New(),
		Key: domain.NotificationKey{
			Type:           domain.NotificationRecodeMissingRule,
			RuleSetName:    ruleSetName,
			FromGroup:      "cbr",
			FromDictionary: "countries",
			ToGroup:        "fns",
			ToDictionary:   "regions",
		},
		Count:           1,
		WindowStart:     windowStart,
		WindowEnd:       windowStart.Add(time.Hour),
		ProcessingState: domain.ProcessingPending,
	}
}

func TestRepo_UpsertAggregatesWithinWindow(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	repo := notification.New(pool)
	ctx := context.Background()

	name := "agg-" + uuid.New().String()[:8]
	window := time.Now().UTC().Truncate(time.Hour)

	first, err := repo.Upsert(ctx, pendingNotification(name, window))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Count)

	second, err := repo.Upsert(ctx, pendingNotification(name, window))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same key and window must land on one row")
	assert.Equal(t, int64(2), second.Count)

	// A different window opens its own bucket.
	next, err := repo.Upsert(ctx, pendingNotification(name, window.Add(time.Hour)))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, int64(1), next.Count)
}

func TestRepo_UpsertAfterProcessedOpensNewBucket(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	repo := notification.New(pool)
	ctx := context.Background()

	name := "retired-" + uuid.New().String()[:8]
	window := time.Now().UTC().Truncate(time.Hour)

	retired, err := repo.Upsert(ctx, pendingNotification(name, window))
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessed(ctx, []uuid.UUID{retired.ID}, time.Now().UTC()))

	// A late outcome for the same key and window must not increment the
	// processed row; it starts a fresh pending notification.
	fresh, err := repo.Upsert(ctx, pendingNotification(name, window))
	require.NoError(t, err)
	assert.NotEqual(t, retired.ID, fresh.ID)
	assert.Equal(t, int64(1), fresh.Count)
	assert.Equal(t, domain.ProcessingPending, fresh.ProcessingState)

	old, err := repo.GetByID(ctx, retired.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingProcessed, old.ProcessingState)
	assert.Equal(t, int64(1), old.Count, "the retired row keeps its final count")

	pending, err := repo.FindBy(ctx, notification.Criteria{
		States:      []domain.ProcessingState{domain.ProcessingPending},
		RuleSetName: name,
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)
}

func TestRepo_MarkProcessedIsIdempotent(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	repo := notification.New(pool)
	ctx := context.Background()

	name := "idem-" + uuid.New().String()[:8]
	window := time.Now().UTC().Truncate(time.Hour)

	n, err := repo.Upsert(ctx, pendingNotification(name, window))
	require.NoError(t, err)

	require.NoError(t, repo.MarkProcessed(ctx, []uuid.UUID{n.ID}, time.Now().UTC()))
	require.NoError(t, repo.MarkProcessed(ctx, []uuid.UUID{n.ID}, time.Now().UTC()))
	require.NoError(t, repo.MarkProcessed(ctx, nil, time.Now().UTC()))

	got, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingProcessed, got.ProcessingState)
}
