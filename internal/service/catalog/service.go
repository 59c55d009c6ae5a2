// Package catalog implements the hierarchy service: CRUD over
// Group → Dictionary → MetaField → Field/Record, NamedPath resolution, and
// publication of structural-change events consumed by the propagation
// engine.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
)

// ---------------------------------------------------------------------------
// Consumer-defined interfaces (private)
// ---------------------------------------------------------------------------

type groupRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Group, error)
	GetByName(ctx context.Context, normalizedName string) (*domain.Group, error)
	Create(ctx context.Context, group *domain.Group) (*domain.Group, error)
	Update(ctx context.Context, group *domain.Group) (*domain.Group, error)
	Close(ctx context.Context, id uuid.UUID, at time.Time) error
}

type dictionaryRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dictionary, error)
	GetByName(ctx context.Context, groupID uuid.UUID, normalizedName string) (*domain.Dictionary, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Dictionary, error)
	Create(ctx context.Context, dict *domain.Dictionary) (*domain.Dictionary, error)
	Update(ctx context.Context, dict *domain.Dictionary) (*domain.Dictionary, error)
	Close(ctx context.Context, id uuid.UUID, at time.Time) error
}

type metaFieldRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MetaField, error)
	GetByName(ctx context.Context, dictionaryID uuid.UUID, normalizedName string) (*domain.MetaField, error)
	ListByDictionary(ctx context.Context, dictionaryID uuid.UUID) ([]domain.MetaField, error)
	Create(ctx context.Context, mf *domain.MetaField) (*domain.MetaField, error)
	Update(ctx context.Context, mf *domain.MetaField) (*domain.MetaField, error)
	Close(ctx context.Context, id uuid.UUID, at time.Time) error
}

type fieldRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Field, error)
	GetByValue(ctx context.Context, metaFieldID uuid.UUID, value *string) (*domain.Field, error)
	ListByMetaField(ctx context.Context, metaFieldID uuid.UUID) ([]domain.Field, error)
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]domain.Field, error)
	Create(ctx context.Context, f *domain.Field) (*domain.Field, error)
	Update(ctx context.Context, f *domain.Field) (*domain.Field, error)
	Close(ctx context.Context, id uuid.UUID, at time.Time) error
}

type differ interface {
	Diff(entityType domain.EntityType, older, newer any) ([]domain.Diff, error)
	Record(ctx context.Context, targetID uuid.UUID, targetType domain.EntityType, eventType domain.EventType, eventDate time.Time, diffs []domain.Diff) (bool, error)
}

type publisher interface {
	Publish(ctx context.Context, ev eventbus.Event) error
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service implements the hierarchy business logic.
type Service struct {
	log          *slog.Logger
	groups       groupRepo
	dictionaries dictionaryRepo
	metaFields   metaFieldRepo
	fields       fieldRepo
	history      differ
	bus          publisher
	tx           txManager
}

// NewService creates the catalog service.
func NewService(
	logger *slog.Logger,
	groups groupRepo,
	dictionaries dictionaryRepo,
	metaFields metaFieldRepo,
	fields fieldRepo,
	history differ,
	bus publisher,
	tx txManager,
) *Service {
	return &Service{
		log:          logger,
		groups:       groups,
		dictionaries: dictionaries,
		metaFields:   metaFields,
		fields:       fields,
		history:      history,
		bus:          bus,
		tx:           tx,
	}
}

// ---------------------------------------------------------------------------
// NamedPath resolution
// ---------------------------------------------------------------------------

// notFoundOrError converts a repo miss into the quietly-aware result.
func notFoundOrError[T any](err error, path domain.NamedPath, quietly bool) (*T, error) {
	if errors.Is(err, domain.ErrNotFound) {
		if quietly {
			return nil, nil
		}
		return nil, domain.NewPathError(domain.KindUnknownDocument, path, "no entity matches path")
	}
	return nil, err
}

// ResolveGroup resolves a group path. With quietly, a miss returns
// (nil, nil) instead of an unknown-document error.
func (s *Service) ResolveGroup(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.Group, error) {
	group, err := s.groups.GetByName(ctx, domain.NormalizeName(path.Group()))
	if err != nil {
		return notFoundOrError[domain.Group](err, path, quietly)
	}
	return group, nil
}

// ResolveDictionary resolves a dictionary path.
func (s *Service) ResolveDictionary(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.Dictionary, error) {
	group, err := s.ResolveGroup(ctx, path.Parent(), quietly)
	if err != nil || group == nil {
		return nil, err
	}
	dict, err := s.dictionaries.GetByName(ctx, group.ID, domain.NormalizeName(path.Dictionary()))
	if err != nil {
		return notFoundOrError[domain.Dictionary](err, path, quietly)
	}
	return dict, nil
}

// ResolveMetaField resolves a meta field path.
func (s *Service) ResolveMetaField(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.MetaField, error) {
	dict, err := s.ResolveDictionary(ctx, path.Parent(), quietly)
	if err != nil || dict == nil {
		return nil, err
	}
	mf, err := s.metaFields.GetByName(ctx, dict.ID, domain.NormalizeName(path.MetaField()))
	if err != nil {
		return notFoundOrError[domain.MetaField](err, path, quietly)
	}
	return mf, nil
}

// ResolveField resolves a field path by its value segment. The value
// matches case-sensitively; a nil value only matches a stored nil.
func (s *Service) ResolveField(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.Field, error) {
	mf, err := s.ResolveMetaField(ctx, path.Parent(), quietly)
	if err != nil || mf == nil {
		return nil, err
	}
	field, err := s.fields.GetByValue(ctx, mf.ID, path.Value())
	if err != nil {
		return notFoundOrError[domain.Field](err, path, quietly)
	}
	return field, nil
}

// ---------------------------------------------------------------------------
// Event publication
// ---------------------------------------------------------------------------

// publishChange appends a History record and publishes the structural
// change. A duplicate (already recorded) event is not republished, which
// keeps redeliveries from fanning out twice.
func (s *Service) publishChange(
	ctx context.Context,
	targetID uuid.UUID,
	targetType domain.EntityType,
	eventType domain.EventType,
	path domain.NamedPath,
	diffs []domain.Diff,
) error {
	eventDate := time.Now().UTC()

	applied, err := s.history.Record(ctx, targetID, targetType, eventType, eventDate, diffs)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	return s.bus.Publish(ctx, eventbus.NewStructuralChange(eventbus.StructuralChange{
		TargetID:   targetID,
		TargetType: targetType,
		EventType:  eventType,
		EventDate:  eventDate,
		Path:       path,
		Diffs:      diffs,
	}))
}
