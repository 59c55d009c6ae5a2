package field_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeenkov/recodehub/internal/adapter/postgres/field"
	"github.com/avdeenkov/recodehub/internal/adapter/postgres/testhelper"
	"github.com/avdeenkov/recodehub/internal/domain"
)

func strptr(s string) *string { return &s }

func TestRepo_GetByValue(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	repo := field.New(pool)
	ctx := context.Background()

	group := testhelper.SeedGroup(t, pool)
	dict := testhelper.SeedDictionary(t, pool, group)
	mf := testhelper.SeedMetaField(t, pool, dict, domain.FlagPrimary)

	plain := testhelper.SeedField(t, pool, mf, strptr("01"))
	empty := testhelper.SeedField(t, pool, mf, strptr(""))
	null := testhelper.SeedField(t, pool, mf, nil)

	got, err := repo.GetByValue(ctx, mf.ID, strptr("01"))
	require.NoError(t, err)
	assert.Equal(t, plain.ID, got.ID)

	// The empty string and NULL are distinct values.
	got, err = repo.GetByValue(ctx, mf.ID, strptr(""))
	require.NoError(t, err)
	assert.Equal(t, empty.ID, got.ID)

	got, err = repo.GetByValue(ctx, mf.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, null.ID, got.ID)

	// Matching is case-sensitive, unlike path resolution.
	upper := testhelper.SeedField(t, pool, mf, strptr("code"))
	_, err = repo.GetByValue(ctx, mf.ID, strptr("CODE"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err = repo.GetByValue(ctx, mf.ID, strptr("code"))
	require.NoError(t, err)
	assert.Equal(t, upper.ID, got.ID)
}

func TestRepo_GetByValue_SkipsClosed(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	repo := field.New(pool)
	ctx := context.Background()

	group := testhelper.SeedGroup(t, pool)
	dict := testhelper.SeedDictionary(t, pool, group)
	mf := testhelper.SeedMetaField(t, pool, dict, domain.FlagPrimary)

	f := testhelper.SeedField(t, pool, mf, strptr("42"))
	require.NoError(t, repo.Close(ctx, f.ID, time.Now().UTC()))

	_, err := repo.GetByValue(ctx, mf.ID, strptr("42"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// GetByID still returns the closed row.
	got, err := repo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ClosedAt)
}

func TestRepo_ListByMetaField_IncludesClosed(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	repo := field.New(pool)
	ctx := context.Background()

	group := testhelper.SeedGroup(t, pool)
	dict := testhelper.SeedDictionary(t, pool, group)
	mf := testhelper.SeedMetaField(t, pool, dict, domain.FlagPrimary)

	open := testhelper.SeedField(t, pool, mf, strptr("a"))
	closed := testhelper.SeedField(t, pool, mf, strptr("b"))
	require.NoError(t, repo.Close(ctx, closed.ID, time.Now().UTC()))

	fields, err := repo.ListByMetaField(ctx, mf.ID)
	require.NoError(t, err)
	require.Len(t, fields, 2)

	ids := map[uuid.UUID]bool{fields[0].ID: true, fields[1].ID: true}
	assert.True(t, ids[open.ID] && ids[closed.ID])
}
