package domain

import (
	"time"

	"github.com/google/uuid"
)

// MetaFieldFlag is a bitmask of column capabilities.
type MetaFieldFlag uint8

const (
	// FlagPrimary marks the single key column of a dictionary.
	FlagPrimary MetaFieldFlag = 1 << iota
	// FlagUnique enforces value uniqueness across the column.
	FlagUnique
	// FlagHidden excludes the column from operator-facing listings.
	FlagHidden
)

// Has reports whether all bits of other are set.
func (f MetaFieldFlag) Has(other MetaFieldFlag) bool { return f&other == other }

// Group is a top-level dictionary namespace, usually an owning system.
type Group struct {
	ID         uuid.UUID
	Name       string
	Owner      string
	Permission uint32
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ClosedAt   *time.Time

	Dictionaries []Dictionary
}

// IsClosed reports whether the group has been closed.
func (g *Group) IsClosed() bool { return g.ClosedAt != nil }

// Path returns the group's NamedPath.
func (g *Group) Path() NamedPath { return GroupPath(g.Name) }

// Dictionary is a reference table owned by exactly one group. Its rows are
// Records, its columns MetaFields.
type Dictionary struct {
	ID          uuid.UUID
	GroupID     uuid.UUID
	GroupName   string
	Name        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time

	MetaFields []MetaField
}

// IsClosed reports whether the dictionary has been closed.
func (d *Dictionary) IsClosed() bool { return d.ClosedAt != nil }

// Path returns the dictionary's NamedPath.
func (d *Dictionary) Path() NamedPath { return DictionaryPath(d.GroupName, d.Name) }

// PrimaryMetaField returns the single PRIMARY column, or nil when the
// loaded MetaFields slice does not contain one.
func (d *Dictionary) PrimaryMetaField() *MetaField {
	for i := range d.MetaFields {
		if d.MetaFields[i].Flags.Has(FlagPrimary) {
			return &d.MetaFields[i]
		}
	}
	return nil
}

// MetaField is a column definition of a dictionary.
type MetaField struct {
	ID             uuid.UUID
	DictionaryID   uuid.UUID
	GroupName      string
	DictionaryName string
	Name           string
	Ordinal        int
	Flags          MetaFieldFlag
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// IsClosed reports whether the meta field has been closed.
func (m *MetaField) IsClosed() bool { return m.ClosedAt != nil }

// Path returns the meta field's NamedPath.
func (m *MetaField) Path() NamedPath {
	return MetaFieldPath(m.GroupName, m.DictionaryName, m.Name)
}

// Field is a single cell value tied to a MetaField and a Record. Its name
// equals the owning record id.
type Field struct {
	ID          uuid.UUID
	MetaFieldID uuid.UUID
	RecordID    uuid.UUID
	Name        string
	Value       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// IsClosed reports whether the field has been closed.
func (f *Field) IsClosed() bool { return f.ClosedAt != nil }

// Record is a logical row of a dictionary, keyed by its primary field value.
// Fields are keyed by meta field name (normalized).
type Record struct {
	ID           uuid.UUID
	DictionaryID uuid.UUID
	Fields       map[string]Field
}

// FieldByMetaField returns the cell for the given meta field name, nil when
// the record has no such cell.
func (r *Record) FieldByMetaField(metaFieldName string) *Field {
	if f, ok := r.Fields[NormalizeName(metaFieldName)]; ok {
		return &f
	}
	return nil
}
