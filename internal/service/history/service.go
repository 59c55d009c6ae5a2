package history

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/pkg/ctxutil"
)

// defaultAuthor attributes events that arrive without an operator in the
// context (propagation cascades, scheduled tasks).
const defaultAuthor = "system"

// ---------------------------------------------------------------------------
// Consumer-defined interfaces (private)
// ---------------------------------------------------------------------------

type historyRepo interface {
	Create(ctx context.Context, record domain.History) (domain.History, error)
	Exists(ctx context.Context, targetID uuid.UUID, eventType domain.EventType, eventDate time.Time) (bool, error)
	ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]domain.History, error)
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service computes content hashes and diffs between entity revisions and
// appends History records.
type Service struct {
	log      *slog.Logger
	registry *Registry
	repo     historyRepo
}

// NewService creates the diff/history service.
func NewService(logger *slog.Logger, registry *Registry, repo historyRepo) *Service {
	return &Service{
		log:      logger,
		registry: registry,
		repo:     repo,
	}
}

// HashCode computes a stable FNV-64a hash over all non-excluded attributes
// of the entity. Two revisions hash equally iff Diff reports no change.
func (s *Service) HashCode(entityType domain.EntityType, entity any) (uint64, error) {
	attrs, desc, err := s.extract(entityType, entity)
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	for _, a := range attrs {
		if desc.excluded(a.Name) {
			continue
		}
		h.Write([]byte(a.Class))
		h.Write([]byte{0})
		h.Write([]byte(a.Name))
		h.Write([]byte{0})
		h.Write([]byte(a.Value))
		h.Write([]byte{0x1e})
	}
	return h.Sum64(), nil
}

// Diff compares two revisions of the same logical entity and returns the
// ordered list of attribute-level differences. It returns nil when the
// revisions are semantically identical, which callers use for optimistic
// no-op detection (skip persistence and propagation entirely).
func (s *Service) Diff(entityType domain.EntityType, older, newer any) ([]domain.Diff, error) {
	oldAttrs, desc, err := s.extract(entityType, older)
	if err != nil {
		return nil, err
	}
	newAttrs, _, err := s.extract(entityType, newer)
	if err != nil {
		return nil, err
	}
	if len(oldAttrs) != len(newAttrs) {
		return nil, fmt.Errorf("history: %s revisions disagree on attribute count", entityType)
	}

	var diffs []domain.Diff
	for i, oldAttr := range oldAttrs {
		newAttr := newAttrs[i]
		if desc.excluded(oldAttr.Name) {
			continue
		}
		if oldAttr.Value == newAttr.Value {
			continue
		}
		diffs = append(diffs, domain.Diff{
			FieldClass: oldAttr.Class,
			FieldName:  oldAttr.Name,
			OldValue:   oldAttr.Value,
			NewValue:   newAttr.Value,
		})
	}
	return diffs, nil
}

// Record appends one History record for the target, attributed to the
// context author. It is idempotent per (targetID, eventType, eventDate):
// a redelivered event is silently absorbed and the stored record returned
// as-is semantics are preserved by reporting applied=false.
func (s *Service) Record(
	ctx context.Context,
	targetID uuid.UUID,
	targetType domain.EntityType,
	eventType domain.EventType,
	eventDate time.Time,
	diffs []domain.Diff,
) (applied bool, err error) {
	exists, err := s.repo.Exists(ctx, targetID, eventType, eventDate)
	if err != nil {
		return false, fmt.Errorf("history: check duplicate: %w", err)
	}
	if exists {
		s.log.Debug("duplicate history event absorbed",
			slog.String("target_id", targetID.String()),
			slog.String("event_type", eventType.String()),
		)
		return false, nil
	}

	author, ok := ctxutil.AuthorFromCtx(ctx)
	if !ok {
		author = defaultAuthor
	}

	_, err = s.repo.Create(ctx, domain.History{
		ID:          uuid.New(),
		TargetID:    targetID,
		TargetType:  targetType,
		EventType:   eventType,
		EventDate:   eventDate,
		EventAuthor: author,
		Diffs:       diffs,
	})
	if err != nil {
		return false, fmt.Errorf("history: create record: %w", err)
	}
	return true, nil
}

// ListByTarget returns the change history of one entity, newest first.
func (s *Service) ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]domain.History, error) {
	return s.repo.ListByTarget(ctx, targetID, limit)
}

func (s *Service) extract(entityType domain.EntityType, entity any) ([]Attribute, Descriptor, error) {
	desc, ok := s.registry.Descriptor(entityType)
	if !ok {
		return nil, Descriptor{}, fmt.Errorf("history: no descriptor for %s", entityType)
	}
	attrs, err := desc.Extract(entity)
	if err != nil {
		return nil, Descriptor{}, err
	}
	return attrs, desc, nil
}
