package catalog

import (
	"strings"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// CreateGroupInput carries the attributes of a new group.
type CreateGroupInput struct {
	Name       string
	Owner      string
	Permission uint32
}

// Validate checks input invariants before any repo access.
func (in CreateGroupInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.NewError(domain.KindIllegalName, "group name must not be empty")
	}
	return nil
}

// CreateDictionaryInput carries the attributes of a new dictionary.
type CreateDictionaryInput struct {
	GroupID     uuid.UUID
	Name        string
	Description *string
}

func (in CreateDictionaryInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.NewError(domain.KindIllegalName, "dictionary name must not be empty")
	}
	return nil
}

// CreateMetaFieldInput carries the attributes of a new meta field.
type CreateMetaFieldInput struct {
	DictionaryID uuid.UUID
	Name         string
	Ordinal      int
	Flags        domain.MetaFieldFlag
}

func (in CreateMetaFieldInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.NewError(domain.KindIllegalName, "meta field name must not be empty")
	}
	return nil
}

// CreateRecordInput carries a new row: values keyed by meta field name.
// A missing key leaves the cell absent; an explicit nil stores a null
// value, which is distinct from the empty string.
type CreateRecordInput struct {
	DictionaryID uuid.UUID
	Values       map[string]*string
}
