package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// ---------------------------------------------------------------------------
// Group
// ---------------------------------------------------------------------------

// CreateGroup creates a group with a case-insensitively unique name.
func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (*domain.Group, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.groups.GetByName(ctx, domain.NormalizeName(in.Name))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check group name: %w", err)
	}
	if existing != nil {
		return nil, domain.NewPathError(domain.KindDuplicateName, domain.GroupPath(in.Name), "group name already in use")
	}

	group, err := s.groups.Create(ctx, &domain.Group{
		ID:         uuid.New(),
		Name:       in.Name,
		Owner:      in.Owner,
		Permission: in.Permission,
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	if err := s.publishChange(ctx, group.ID, domain.EntityGroup, domain.EventCreate, group.Path(), nil); err != nil {
		return nil, err
	}
	return group, nil
}

// UpdateGroup applies a revised group. When the revision is semantically
// identical (empty diff) nothing is written and no event is published.
func (s *Service) UpdateGroup(ctx context.Context, revised *domain.Group) (*domain.Group, error) {
	current, err := s.groups.GetByID(ctx, revised.ID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	if current.IsClosed() {
		return nil, fmt.Errorf("group %s: %w", current.Name, domain.ErrConflict)
	}

	diffs, err := s.history.Diff(domain.EntityGroup, current, revised)
	if err != nil {
		return nil, err
	}
	if diffs == nil {
		s.log.Debug("group update skipped, no changes", slog.String("group", current.Name))
		return current, nil
	}

	if !domain.SameName(current.Name, revised.Name) {
		if err := s.checkGroupNameFree(ctx, revised.Name); err != nil {
			return nil, err
		}
	}

	updated, err := s.groups.Update(ctx, revised)
	if err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}

	if err := s.publishChange(ctx, updated.ID, domain.EntityGroup, domain.EventUpdate, current.Path(), diffs); err != nil {
		return nil, err
	}
	return updated, nil
}

// CloseGroup closes the group and transitively all its dictionaries, meta
// fields, and fields. Dependents are closed before the group itself so no
// event ever refers to structure under a closed ancestor.
func (s *Service) CloseGroup(ctx context.Context, id uuid.UUID) error {
	group, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}
	if group.IsClosed() {
		return nil
	}

	dicts, err := s.dictionaries.ListByGroup(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("list dictionaries: %w", err)
	}
	for i := range dicts {
		if err := s.CloseDictionary(ctx, dicts[i].ID); err != nil {
			return err
		}
	}

	if err := s.groups.Close(ctx, group.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("close group: %w", err)
	}
	return s.publishChange(ctx, group.ID, domain.EntityGroup, domain.EventClose, group.Path(), nil)
}

func (s *Service) checkGroupNameFree(ctx context.Context, name string) error {
	existing, err := s.groups.GetByName(ctx, domain.NormalizeName(name))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("check group name: %w", err)
	}
	if existing != nil {
		return domain.NewPathError(domain.KindDuplicateName, domain.GroupPath(name), "group name already in use")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dictionary
// ---------------------------------------------------------------------------

// CreateDictionary creates a dictionary with a name unique within its group.
func (s *Service) CreateDictionary(ctx context.Context, in CreateDictionaryInput) (*domain.Dictionary, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	group, err := s.groups.GetByID(ctx, in.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	if group.IsClosed() {
		return nil, fmt.Errorf("group %s is closed: %w", group.Name, domain.ErrConflict)
	}

	existing, err := s.dictionaries.GetByName(ctx, group.ID, domain.NormalizeName(in.Name))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check dictionary name: %w", err)
	}
	if existing != nil {
		return nil, domain.NewPathError(domain.KindDuplicateName,
			domain.DictionaryPath(group.Name, in.Name), "dictionary name already in use within group")
	}

	dict, err := s.dictionaries.Create(ctx, &domain.Dictionary{
		ID:          uuid.New(),
		GroupID:     group.ID,
		GroupName:   group.Name,
		Name:        in.Name,
		Description: in.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("create dictionary: %w", err)
	}

	if err := s.publishChange(ctx, dict.ID, domain.EntityDictionary, domain.EventCreate, dict.Path(), nil); err != nil {
		return nil, err
	}
	return dict, nil
}

// CloseDictionary closes the dictionary and transitively its meta fields
// and their fields.
func (s *Service) CloseDictionary(ctx context.Context, id uuid.UUID) error {
	dict, err := s.dictionaries.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load dictionary: %w", err)
	}
	if dict.IsClosed() {
		return nil
	}

	metaFields, err := s.metaFields.ListByDictionary(ctx, dict.ID)
	if err != nil {
		return fmt.Errorf("list meta fields: %w", err)
	}
	for i := range metaFields {
		if err := s.closeMetaFieldCascade(ctx, &metaFields[i]); err != nil {
			return err
		}
	}

	if err := s.dictionaries.Close(ctx, dict.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("close dictionary: %w", err)
	}
	return s.publishChange(ctx, dict.ID, domain.EntityDictionary, domain.EventClose, dict.Path(), nil)
}

// ---------------------------------------------------------------------------
// MetaField
// ---------------------------------------------------------------------------

// CreateMetaField creates a column. The first column of a dictionary must
// carry the PRIMARY flag; at most one PRIMARY exists per dictionary.
func (s *Service) CreateMetaField(ctx context.Context, in CreateMetaFieldInput) (*domain.MetaField, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	dict, err := s.dictionaries.GetByID(ctx, in.DictionaryID)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	if dict.IsClosed() {
		return nil, fmt.Errorf("dictionary %s is closed: %w", dict.Name, domain.ErrConflict)
	}

	existing, err := s.metaFields.GetByName(ctx, dict.ID, domain.NormalizeName(in.Name))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check meta field name: %w", err)
	}
	if existing != nil {
		return nil, domain.NewPathError(domain.KindDuplicateName,
			domain.MetaFieldPath(dict.GroupName, dict.Name, in.Name), "meta field name already in use within dictionary")
	}

	siblings, err := s.metaFields.ListByDictionary(ctx, dict.ID)
	if err != nil {
		return nil, fmt.Errorf("list meta fields: %w", err)
	}
	if err := checkPrimaryInvariant(dict, siblings, in.Flags); err != nil {
		return nil, err
	}

	mf, err := s.metaFields.Create(ctx, &domain.MetaField{
		ID:             uuid.New(),
		DictionaryID:   dict.ID,
		GroupName:      dict.GroupName,
		DictionaryName: dict.Name,
		Name:           in.Name,
		Ordinal:        in.Ordinal,
		Flags:          in.Flags,
	})
	if err != nil {
		return nil, fmt.Errorf("create meta field: %w", err)
	}

	if err := s.publishChange(ctx, mf.ID, domain.EntityMetaField, domain.EventCreate, mf.Path(), nil); err != nil {
		return nil, err
	}
	return mf, nil
}

// UpdateMetaField applies a revised meta field. Removing or reassigning
// the PRIMARY flag is rejected: rule sets compose keys positionally over
// the primary column.
func (s *Service) UpdateMetaField(ctx context.Context, revised *domain.MetaField) (*domain.MetaField, error) {
	current, err := s.metaFields.GetByID(ctx, revised.ID)
	if err != nil {
		return nil, fmt.Errorf("load meta field: %w", err)
	}
	if current.IsClosed() {
		return nil, fmt.Errorf("meta field %s: %w", current.Name, domain.ErrConflict)
	}

	if current.Flags.Has(domain.FlagPrimary) != revised.Flags.Has(domain.FlagPrimary) {
		return nil, domain.NewPathError(domain.KindIllegalPrimaryKey, current.Path(),
			"the PRIMARY flag cannot be removed or reassigned")
	}

	diffs, err := s.history.Diff(domain.EntityMetaField, current, revised)
	if err != nil {
		return nil, err
	}
	if diffs == nil {
		s.log.Debug("meta field update skipped, no changes", slog.String("meta_field", current.Name))
		return current, nil
	}

	if !domain.SameName(current.Name, revised.Name) {
		dup, err := s.metaFields.GetByName(ctx, current.DictionaryID, domain.NormalizeName(revised.Name))
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("check meta field name: %w", err)
		}
		if dup != nil {
			return nil, domain.NewPathError(domain.KindDuplicateName, current.Path(), "meta field name already in use within dictionary")
		}
	}

	updated, err := s.metaFields.Update(ctx, revised)
	if err != nil {
		return nil, fmt.Errorf("update meta field: %w", err)
	}

	if err := s.publishChange(ctx, updated.ID, domain.EntityMetaField, domain.EventUpdate, current.Path(), diffs); err != nil {
		return nil, err
	}
	return updated, nil
}

// CloseMetaField closes a non-primary column and its fields. The primary
// column can only disappear with its dictionary.
func (s *Service) CloseMetaField(ctx context.Context, id uuid.UUID) error {
	mf, err := s.metaFields.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load meta field: %w", err)
	}
	if mf.IsClosed() {
		return nil
	}
	if mf.Flags.Has(domain.FlagPrimary) {
		return domain.NewPathError(domain.KindIllegalPrimaryKey, mf.Path(),
			"the primary meta field cannot be closed while its dictionary is open")
	}
	return s.closeMetaFieldCascade(ctx, mf)
}

func (s *Service) closeMetaFieldCascade(ctx context.Context, mf *domain.MetaField) error {
	if mf.IsClosed() {
		return nil
	}

	fields, err := s.fields.ListByMetaField(ctx, mf.ID)
	if err != nil {
		return fmt.Errorf("list fields: %w", err)
	}
	for i := range fields {
		if err := s.closeField(ctx, &fields[i], mf); err != nil {
			return err
		}
	}

	if err := s.metaFields.Close(ctx, mf.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("close meta field: %w", err)
	}
	return s.publishChange(ctx, mf.ID, domain.EntityMetaField, domain.EventClose, mf.Path(), nil)
}

func checkPrimaryInvariant(dict *domain.Dictionary, siblings []domain.MetaField, newFlags domain.MetaFieldFlag) error {
	hasPrimary := false
	for i := range siblings {
		if !siblings[i].IsClosed() && siblings[i].Flags.Has(domain.FlagPrimary) {
			hasPrimary = true
			break
		}
	}
	isPrimary := newFlags.Has(domain.FlagPrimary)

	switch {
	case hasPrimary && isPrimary:
		return domain.NewPathError(domain.KindIllegalPrimaryKey, dict.Path(),
			"dictionary already has a primary meta field")
	case !hasPrimary && !isPrimary:
		return domain.NewPathError(domain.KindIllegalPrimaryKey, dict.Path(),
			"the first meta field of a dictionary must be primary")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Record / Field
// ---------------------------------------------------------------------------

// CreateRecord creates a row: one Field per provided value. The primary
// cell is mandatory; UNIQUE columns reject duplicate values. All cells are
// written in one transaction.
func (s *Service) CreateRecord(ctx context.Context, in CreateRecordInput) (*domain.Record, error) {
	dict, err := s.dictionaries.GetByID(ctx, in.DictionaryID)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	if dict.IsClosed() {
		return nil, fmt.Errorf("dictionary %s is closed: %w", dict.Name, domain.ErrConflict)
	}

	metaFields, err := s.metaFields.ListByDictionary(ctx, dict.ID)
	if err != nil {
		return nil, fmt.Errorf("list meta fields: %w", err)
	}
	byName := make(map[string]*domain.MetaField, len(metaFields))
	var primary *domain.MetaField
	for i := range metaFields {
		if metaFields[i].IsClosed() {
			continue
		}
		byName[domain.NormalizeName(metaFields[i].Name)] = &metaFields[i]
		if metaFields[i].Flags.Has(domain.FlagPrimary) {
			primary = &metaFields[i]
		}
	}
	if primary == nil {
		return nil, domain.NewPathError(domain.KindIllegalPrimaryKey, dict.Path(), "dictionary has no primary meta field")
	}

	if _, ok := in.Values[primary.Name]; !ok {
		found := false
		for name := range in.Values {
			if domain.SameName(name, primary.Name) {
				found = true
				break
			}
		}
		if !found {
			return nil, domain.NewPathError(domain.KindIncompleteData, primary.Path(), "record is missing its primary field value")
		}
	}

	record := &domain.Record{
		ID:           uuid.New(),
		DictionaryID: dict.ID,
		Fields:       make(map[string]domain.Field, len(in.Values)),
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for name, value := range in.Values {
			mf, ok := byName[domain.NormalizeName(name)]
			if !ok {
				return domain.NewPathError(domain.KindUnknownDocument,
					domain.MetaFieldPath(dict.GroupName, dict.Name, name), "no such meta field")
			}

			if mf.Flags.Has(domain.FlagUnique) || mf.Flags.Has(domain.FlagPrimary) {
				dup, err := s.fields.GetByValue(ctx, mf.ID, value)
				if err != nil && !errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("check unique value: %w", err)
				}
				if dup != nil {
					return &domain.Error{
						Kind:     domain.KindNotUniqueFieldValue,
						Path:     domain.FieldPath(dict.GroupName, dict.Name, mf.Name, value),
						Detail:   "value already present in unique meta field",
						NewValue: renderValue(value),
					}
				}
			}

			field, err := s.fields.Create(ctx, &domain.Field{
				ID:          uuid.New(),
				MetaFieldID: mf.ID,
				RecordID:    record.ID,
				Name:        record.ID.String(),
				Value:       value,
			})
			if err != nil {
				return fmt.Errorf("create field: %w", err)
			}
			record.Fields[domain.NormalizeName(mf.Name)] = *field
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.publishChange(ctx, record.ID, domain.EntityRecord, domain.EventCreate, dict.Path(), nil); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateFieldValue changes one cell value, enforcing UNIQUE, and publishes
// the field-level change the propagation engine reacts to.
func (s *Service) UpdateFieldValue(ctx context.Context, fieldID uuid.UUID, value *string) (*domain.Field, error) {
	current, err := s.fields.GetByID(ctx, fieldID)
	if err != nil {
		return nil, fmt.Errorf("load field: %w", err)
	}
	if current.IsClosed() {
		return nil, fmt.Errorf("field %s: %w", current.ID, domain.ErrConflict)
	}

	mf, err := s.metaFields.GetByID(ctx, current.MetaFieldID)
	if err != nil {
		return nil, fmt.Errorf("load meta field: %w", err)
	}

	revised := *current
	revised.Value = value

	diffs, err := s.history.Diff(domain.EntityField, current, &revised)
	if err != nil {
		return nil, err
	}
	if diffs == nil {
		return current, nil
	}

	if mf.Flags.Has(domain.FlagUnique) || mf.Flags.Has(domain.FlagPrimary) {
		dup, err := s.fields.GetByValue(ctx, mf.ID, value)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("check unique value: %w", err)
		}
		if dup != nil && dup.ID != current.ID {
			return nil, &domain.Error{
				Kind:     domain.KindNotUniqueFieldValue,
				Path:     domain.FieldPath(mf.GroupName, mf.DictionaryName, mf.Name, value),
				Detail:   "value already present in unique meta field",
				NewValue: renderValue(value),
			}
		}
	}

	updated, err := s.fields.Update(ctx, &revised)
	if err != nil {
		return nil, fmt.Errorf("update field: %w", err)
	}

	path := domain.FieldPath(mf.GroupName, mf.DictionaryName, mf.Name, current.Value)
	if err := s.publishChange(ctx, updated.ID, domain.EntityField, domain.EventUpdate, path, diffs); err != nil {
		return nil, err
	}
	return updated, nil
}

// CloseField closes one cell and publishes the change.
func (s *Service) CloseField(ctx context.Context, fieldID uuid.UUID) error {
	field, err := s.fields.GetByID(ctx, fieldID)
	if err != nil {
		return fmt.Errorf("load field: %w", err)
	}
	if field.IsClosed() {
		return nil
	}
	mf, err := s.metaFields.GetByID(ctx, field.MetaFieldID)
	if err != nil {
		return fmt.Errorf("load meta field: %w", err)
	}
	return s.closeField(ctx, field, mf)
}

func (s *Service) closeField(ctx context.Context, field *domain.Field, mf *domain.MetaField) error {
	if field.IsClosed() {
		return nil
	}
	if err := s.fields.Close(ctx, field.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("close field: %w", err)
	}
	path := domain.FieldPath(mf.GroupName, mf.DictionaryName, mf.Name, field.Value)
	return s.publishChange(ctx, field.ID, domain.EntityField, domain.EventClose, path, nil)
}

// PrimaryFieldValues returns the fields of the dictionary's primary
// column, i.e. one entry per record keyed by its primary value.
func (s *Service) PrimaryFieldValues(ctx context.Context, dictionaryID uuid.UUID) ([]domain.Field, error) {
	metaFields, err := s.metaFields.ListByDictionary(ctx, dictionaryID)
	if err != nil {
		return nil, fmt.Errorf("list meta fields: %w", err)
	}
	for i := range metaFields {
		if !metaFields[i].IsClosed() && metaFields[i].Flags.Has(domain.FlagPrimary) {
			return s.fields.ListByMetaField(ctx, metaFields[i].ID)
		}
	}
	return nil, nil
}

func renderValue(v *string) string {
	if v == nil {
		return "<nil>"
	}
	return *v
}
