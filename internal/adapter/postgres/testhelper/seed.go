package testhelper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// uniqueSuffix returns a short unique string for generating non-conflicting test data.
func uniqueSuffix() string {
	return uuid.New().String()[:8]
}

// SeedGroup creates a group with a unique name. Returns the filled domain.Group.
func SeedGroup(t *testing.T, pool *pgxpool.Pool) domain.Group {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	now := time.Now().UTC().Truncate(time.Microsecond)
	group := domain.Group{
		ID:        uuid.New(),
		Name:      "group-" + suffix,
		Owner:     "testhelper",
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO groups (id, name, owner, permission, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		group.ID, group.Name, group.Owner, group.Permission, group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedGroup insert: %v", err)
	}

	return group
}

// SeedDictionary creates a dictionary inside the group.
func SeedDictionary(t *testing.T, pool *pgxpool.Pool, group domain.Group) domain.Dictionary {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	now := time.Now().UTC().Truncate(time.Microsecond)
	dict := domain.Dictionary{
		ID:        uuid.New(),
		GroupID:   group.ID,
		GroupName: group.Name,
		Name:      "dict-" + suffix,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO dictionaries (id, group_id, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		dict.ID, dict.GroupID, dict.Name, dict.CreatedAt, dict.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedDictionary insert: %v", err)
	}

	return dict
}

// SeedMetaField creates a meta field of the dictionary with the given flags.
func SeedMetaField(t *testing.T, pool *pgxpool.Pool, dict domain.Dictionary, flags domain.MetaFieldFlag) domain.MetaField {
	t.Helper()
	ctx := context.Background()

	suffix := uniqueSuffix()
	now := time.Now().UTC().Truncate(time.Microsecond)
	mf := domain.MetaField{
		ID:             uuid.New(),
		DictionaryID:   dict.ID,
		GroupName:      dict.GroupName,
		DictionaryName: dict.Name,
		Name:           "mf-" + suffix,
		Flags:          flags,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO meta_fields (id, dictionary_id, name, ordinal, flags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		mf.ID, mf.DictionaryID, mf.Name, mf.Ordinal, mf.Flags, mf.CreatedAt, mf.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedMetaField insert: %v", err)
	}

	return mf
}

// SeedField creates a field (cell) carrying the given value under the meta
// field. A nil value seeds a stored NULL.
func SeedField(t *testing.T, pool *pgxpool.Pool, mf domain.MetaField, value *string) domain.Field {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	recordID := uuid.New()
	field := domain.Field{
		ID:          uuid.New(),
		MetaFieldID: mf.ID,
		RecordID:    recordID,
		Name:        recordID.String(),
		Value:       value,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO fields (id, meta_field_id, record_id, name, value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		field.ID, field.MetaFieldID, field.RecordID, field.Name, field.Value, field.CreatedAt, field.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedField insert: %v", err)
	}

	return field
}
