package history

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/pkg/ctxutil"
)

// ---------------------------------------------------------------------------
// Test mocks (moq-style with func fields)
// ---------------------------------------------------------------------------

type mockHistoryRepo struct {
	CreateFunc       func(ctx context.Context, record domain.History) (domain.History, error)
	ExistsFunc       func(ctx context.Context, targetID uuid.UUID, eventType domain.EventType, eventDate time.Time) (bool, error)
	ListByTargetFunc func(ctx context.Context, targetID uuid.UUID, limit int) ([]domain.History, error)
}

func (m *mockHistoryRepo) Create(ctx context.Context, record domain.History) (domain.History, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, record)
	}
	return record, nil
}

func (m *mockHistoryRepo) Exists(ctx context.Context, targetID uuid.UUID, eventType domain.EventType, eventDate time.Time) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, targetID, eventType, eventDate)
	}
	return false, nil
}

func (m *mockHistoryRepo) ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]domain.History, error) {
	if m.ListByTargetFunc != nil {
		return m.ListByTargetFunc(ctx, targetID, limit)
	}
	return nil, nil
}

func newTestService(repo historyRepo) *Service {
	return NewService(slog.New(slog.DiscardHandler), DefaultRegistry(), repo)
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Hash / diff
// ---------------------------------------------------------------------------

func TestDiff_NilIffHashEqual(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mockHistoryRepo{})

	base := &domain.MetaField{
		ID:           uuid.New(),
		DictionaryID: uuid.New(),
		Name:         "alpha2",
		Ordinal:      1,
		Flags:        domain.FlagPrimary,
	}

	// Same content, different generated id: still semantically identical.
	same := *base
	same.ID = uuid.New()

	renamed := *base
	renamed.Name = "alpha3"

	tests := []struct {
		name  string
		other *domain.MetaField
		equal bool
	}{
		{"identical revision", base, true},
		{"id regenerated", &same, true},
		{"renamed", &renamed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hashA, err := svc.HashCode(domain.EntityMetaField, base)
			require.NoError(t, err)
			hashB, err := svc.HashCode(domain.EntityMetaField, tt.other)
			require.NoError(t, err)

			diffs, err := svc.Diff(domain.EntityMetaField, base, tt.other)
			require.NoError(t, err)

			if tt.equal {
				assert.Equal(t, hashA, hashB)
				assert.Nil(t, diffs)
			} else {
				assert.NotEqual(t, hashA, hashB)
				assert.NotEmpty(t, diffs)
			}
		})
	}
}

func TestDiff_ReportsOldAndNewValues(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mockHistoryRepo{})

	older := &domain.Field{ID: uuid.New(), Name: "rec-1", Value: strPtr("RU")}
	newer := *older
	newer.Value = strPtr("RUS")

	diffs, err := svc.Diff(domain.EntityField, older, &newer)
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	assert.Equal(t, "Field", diffs[0].FieldClass)
	assert.Equal(t, "value", diffs[0].FieldName)
	assert.Equal(t, "RU", diffs[0].OldValue)
	assert.Equal(t, "RUS", diffs[0].NewValue)
}

func TestDiff_NilValueDistinctFromEmpty(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mockHistoryRepo{})

	older := &domain.Field{ID: uuid.New(), Name: "rec-1", Value: nil}
	newer := *older
	newer.Value = strPtr("")

	diffs, err := svc.Diff(domain.EntityField, older, &newer)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "<nil>", diffs[0].OldValue)
	assert.Equal(t, "", diffs[0].NewValue)
}

func TestDiff_MapAttributeSingleDiff(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mockHistoryRepo{})

	older := &domain.TaskExecution{
		ID:        uuid.New(),
		Performer: "recode-batch",
		Parameters: map[string]string{
			"group":      "cbr",
			"dictionary": "countries",
		},
		Status: domain.TaskSubmitted,
	}
	newer := *older
	newer.Parameters = map[string]string{
		"group":      "cbr",
		"dictionary": "regions",
	}

	diffs, err := svc.Diff(domain.EntityTaskExecution, older, &newer)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "parameters", diffs[0].FieldName)
	assert.Contains(t, diffs[0].OldValue, "dictionary=countries")
	assert.Contains(t, diffs[0].NewValue, "dictionary=regions")
}

func TestDiff_OrderFollowsDeclaration(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mockHistoryRepo{})

	older := &domain.RecodeRuleSet{
		ID:    uuid.New(),
		Name:  "cbr-to-swift",
		State: domain.RuleStateActive,
	}
	newer := *older
	newer.Name = "cbr-to-swift-v2"
	newer.State = domain.RuleStateClosed

	diffs, err := svc.Diff(domain.EntityRuleSet, older, &newer)
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	assert.Equal(t, "name", diffs[0].FieldName)
	assert.Equal(t, "state", diffs[1].FieldName)
}

func TestHashCode_UnknownType(t *testing.T) {
	t.Parallel()

	svc := newTestService(&mockHistoryRepo{})

	_, err := svc.HashCode(domain.EntityType("BOGUS"), &domain.Group{})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Record
// ---------------------------------------------------------------------------

func TestRecord_AttributesAuthorFromContext(t *testing.T) {
	t.Parallel()

	var created domain.History
	repo := &mockHistoryRepo{
		CreateFunc: func(_ context.Context, record domain.History) (domain.History, error) {
			created = record
			return record, nil
		},
	}
	svc := newTestService(repo)

	ctx := ctxutil.WithAuthor(context.Background(), "operator-7")
	applied, err := svc.Record(ctx, uuid.New(), domain.EntityDictionary, domain.EventUpdate, time.Now(), nil)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "operator-7", created.EventAuthor)
}

func TestRecord_DefaultsToSystemAuthor(t *testing.T) {
	t.Parallel()

	var created domain.History
	repo := &mockHistoryRepo{
		CreateFunc: func(_ context.Context, record domain.History) (domain.History, error) {
			created = record
			return record, nil
		},
	}
	svc := newTestService(repo)

	applied, err := svc.Record(context.Background(), uuid.New(), domain.EntityRuleSet, domain.EventClose, time.Now(), nil)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "system", created.EventAuthor)
}

func TestRecord_DuplicateAbsorbed(t *testing.T) {
	t.Parallel()

	createCalls := 0
	repo := &mockHistoryRepo{
		ExistsFunc: func(context.Context, uuid.UUID, domain.EventType, time.Time) (bool, error) {
			return true, nil
		},
		CreateFunc: func(_ context.Context, record domain.History) (domain.History, error) {
			createCalls++
			return record, nil
		},
	}
	svc := newTestService(repo)

	applied, err := svc.Record(context.Background(), uuid.New(), domain.EntityField, domain.EventClose, time.Now(), nil)

	require.NoError(t, err)
	assert.False(t, applied)
	assert.Zero(t, createCalls)
}
