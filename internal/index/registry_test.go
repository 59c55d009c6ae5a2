package index

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeenkov/recodehub/internal/domain"
)

func TestCapability_Has(t *testing.T) {
	caps := Filterable | Sortable

	assert.True(t, caps.Has(Filterable))
	assert.True(t, caps.Has(Sortable))
	assert.True(t, caps.Has(Filterable|Sortable))
	assert.False(t, caps.Has(Searchable))
	assert.False(t, caps.Has(Filterable|Searchable))
}

func TestRegistry_DuplicateTypePanics(t *testing.T) {
	r := NewRegistry().Register(domain.EntityGroup)

	assert.Panics(t, func() {
		r.Register(domain.EntityGroup)
	})
}

func TestRegistry_Types_SortedAndStable(t *testing.T) {
	r := NewRegistry().
		Register(domain.EntityRuleSet).
		Register(domain.EntityGroup).
		Register(domain.EntityField)

	expected := []domain.EntityType{domain.EntityField, domain.EntityGroup, domain.EntityRuleSet}
	assert.Equal(t, expected, r.Types())
	assert.Equal(t, expected, r.Types())
}

func TestBuildDocument_ExtractsRegisteredFields(t *testing.T) {
	r := DefaultRegistry()

	group := &domain.Group{ID: uuid.New(), Name: "FNS", Owner: "fns-team"}
	doc, err := r.BuildDocument(domain.EntityGroup, group.ID, group)
	require.NoError(t, err)

	assert.Equal(t, group.ID, doc.ID)
	assert.Equal(t, domain.EntityGroup, doc.Type)
	assert.Equal(t, map[string]string{"name": "FNS", "owner": "fns-team"}, doc.Fields)
}

func TestBuildDocument_NilValueFieldSkipped(t *testing.T) {
	r := DefaultRegistry()

	f := &domain.Field{ID: uuid.New(), RecordID: uuid.New(), Value: nil}
	doc, err := r.BuildDocument(domain.EntityField, f.ID, f)
	require.NoError(t, err)

	// A NULL cell has no "value" entry, unlike an empty string cell.
	_, hasValue := doc.Fields["value"]
	assert.False(t, hasValue)
	assert.Equal(t, f.RecordID.String(), doc.Fields["record"])

	empty := ""
	f.Value = &empty
	doc, err = r.BuildDocument(domain.EntityField, f.ID, f)
	require.NoError(t, err)
	assert.Equal(t, "", doc.Fields["value"])
}

func TestBuildDocument_UnknownTypeFails(t *testing.T) {
	r := NewRegistry()

	_, err := r.BuildDocument(domain.EntityGroup, uuid.New(), &domain.Group{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuildDocument_WrongInstanceSkipsFields(t *testing.T) {
	r := DefaultRegistry()

	doc, err := r.BuildDocument(domain.EntityGroup, uuid.New(), &domain.Dictionary{Name: "okved"})
	require.NoError(t, err)
	assert.Empty(t, doc.Fields)
}

func TestDefaultRegistry_MetaFieldPathAndOrdinal(t *testing.T) {
	r := DefaultRegistry()

	mf := &domain.MetaField{
		ID:             uuid.New(),
		GroupName:      "FNS",
		DictionaryName: "okved",
		Name:           "code",
		Ordinal:        3,
	}
	doc, err := r.BuildDocument(domain.EntityMetaField, mf.ID, mf)
	require.NoError(t, err)

	assert.Equal(t, mf.Path().String(), doc.Fields["path"])
	assert.Equal(t, "3", doc.Fields["ordinal"])

	var ordinalCaps Capability
	for _, m := range r.Fields(domain.EntityMetaField) {
		if m.Name == "ordinal" {
			ordinalCaps = m.Caps
		}
	}
	assert.True(t, ordinalCaps.Has(Sortable))
	assert.False(t, ordinalCaps.Has(Searchable))
}
