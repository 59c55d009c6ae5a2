package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
	"github.com/avdeenkov/recodehub/internal/service/tasks"
)

// PerformerName is the task performer identifier for index rebuilds.
const PerformerName = "index-rebuild"

// ParamTargetType limits a rebuild task to one entity type. Absent or
// empty means a full rebuild.
const ParamTargetType = "target_type"

// Indexer is the external search/filter index. Rebuild replaces every
// document of one entity type with the given set.
type Indexer interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, t domain.EntityType, id uuid.UUID) error
	Rebuild(ctx context.Context, t domain.EntityType, docs []Document) error
}

// Source loads documents of one entity type for indexing.
type Source struct {
	// LoadAll returns every live document of the type.
	LoadAll func(ctx context.Context) ([]Document, error)
	// LoadOne returns the document for a single entity. Optional; without
	// it structural updates wait for the next rebuild.
	LoadOne func(ctx context.Context, id uuid.UUID) (Document, error)
}

type publisher interface {
	Publish(ctx context.Context, ev eventbus.Event) error
}

type subscriber interface {
	Subscribe(topic eventbus.Topic, h eventbus.Handler)
}

// Service keeps the external index in step with the engine. It forwards
// structural changes as upserts and deletes, runs rebuild tasks, and
// tracks rebuild acknowledgments.
type Service struct {
	log      *slog.Logger
	registry *Registry
	indexer  Indexer
	bus      publisher

	mu          sync.Mutex
	sources     map[domain.EntityType]Source
	lastRebuilt map[domain.EntityType]time.Time
}

// NewService creates the index coordinator.
func NewService(logger *slog.Logger, registry *Registry, indexer Indexer, bus publisher) *Service {
	return &Service{
		log:         logger,
		registry:    registry,
		indexer:     indexer,
		bus:         bus,
		sources:     make(map[domain.EntityType]Source),
		lastRebuilt: make(map[domain.EntityType]time.Time),
	}
}

// RegisterSource wires the document loader for an entity type. Wiring a
// type twice is a bug and panics.
func (s *Service) RegisterSource(t domain.EntityType, src Source) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[t]; ok {
		panic(fmt.Sprintf("index: source for %q registered twice", t))
	}
	if src.LoadAll == nil {
		panic(fmt.Sprintf("index: source for %q has no LoadAll", t))
	}
	s.sources[t] = src
	return s
}

// Register subscribes the service to structural changes and rebuild
// acknowledgments.
func (s *Service) Register(bus subscriber) {
	bus.Subscribe(eventbus.TopicStructuralChange, s.HandleStructuralChange)
	bus.Subscribe(eventbus.TopicIndexRebuild, s.HandleRebuildAck)
}

// HandleStructuralChange mirrors one entity change into the index. Closes
// become deletes; creates, updates, and restores become upserts when the
// type has a LoadOne source.
func (s *Service) HandleStructuralChange(ctx context.Context, ev eventbus.Event) error {
	change := ev.StructuralChange
	if change == nil {
		return nil
	}
	if s.registry.Fields(change.TargetType) == nil {
		return nil
	}

	if change.EventType == domain.EventClose {
		if err := s.indexer.Delete(ctx, change.TargetType, change.TargetID); err != nil {
			s.log.Warn("index delete failed",
				slog.String("type", string(change.TargetType)),
				slog.String("id", change.TargetID.String()),
				slog.Any("error", err))
		}
		return nil
	}

	s.mu.Lock()
	src, ok := s.sources[change.TargetType]
	s.mu.Unlock()
	if !ok || src.LoadOne == nil {
		return nil
	}

	doc, err := src.LoadOne(ctx, change.TargetID)
	if err != nil {
		s.log.Warn("index load failed",
			slog.String("type", string(change.TargetType)),
			slog.String("id", change.TargetID.String()),
			slog.Any("error", err))
		return nil
	}
	if err := s.indexer.Upsert(ctx, doc); err != nil {
		s.log.Warn("index upsert failed",
			slog.String("type", string(change.TargetType)),
			slog.String("id", change.TargetID.String()),
			slog.Any("error", err))
	}
	return nil
}

// HandleRebuildAck records rebuild completions. Requests pass through
// untouched; turning them into tasks is the submitter's job.
func (s *Service) HandleRebuildAck(_ context.Context, ev eventbus.Event) error {
	r := ev.IndexRebuild
	if r == nil || !r.Acknowledged {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.TargetType == "" {
		for t := range s.sources {
			s.lastRebuilt[t] = ev.OccurredAt
		}
	} else {
		s.lastRebuilt[r.TargetType] = ev.OccurredAt
	}
	s.log.Info("index rebuild acknowledged", slog.String("type", string(r.TargetType)))
	return nil
}

// LastRebuilt returns the acknowledgment time of the latest rebuild
// covering the type.
func (s *Service) LastRebuilt(t domain.EntityType) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastRebuilt[t]
	return at, ok
}

// RequestRebuild publishes a rebuild request. Empty targetType requests a
// full rebuild.
func (s *Service) RequestRebuild(ctx context.Context, targetType domain.EntityType) error {
	if targetType != "" {
		s.mu.Lock()
		_, ok := s.sources[targetType]
		s.mu.Unlock()
		if !ok {
			return domain.NewError(domain.KindUnknownDocument, fmt.Sprintf("no index source for %q", targetType))
		}
	}
	return s.bus.Publish(ctx, eventbus.NewIndexRebuild(eventbus.IndexRebuild{TargetType: targetType}))
}

// Name implements the task performer contract.
func (s *Service) Name() string { return PerformerName }

// Perform rebuilds the index and publishes the acknowledgment. One
// tracker step per entity type.
func (s *Service) Perform(ctx context.Context, exec domain.TaskExecution, tracker *tasks.Tracker) (map[string]string, error) {
	target := domain.EntityType(exec.Parameters[ParamTargetType])

	types, err := s.rebuildTypes(target)
	if err != nil {
		return nil, err
	}

	progress := tracker.Child(len(types))
	total := 0
	for _, t := range types {
		s.mu.Lock()
		src := s.sources[t]
		s.mu.Unlock()

		docs, err := src.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("load %s documents: %w", t, err)
		}
		if err := s.indexer.Rebuild(ctx, t, docs); err != nil {
			return nil, fmt.Errorf("rebuild %s index: %w", t, err)
		}
		total += len(docs)
		progress.NextStep()
	}

	ack := eventbus.NewIndexRebuild(eventbus.IndexRebuild{TargetType: target, Acknowledged: true})
	if err := s.bus.Publish(ctx, ack); err != nil {
		return nil, fmt.Errorf("publish rebuild ack: %w", err)
	}

	return map[string]string{
		"types":     strconv.Itoa(len(types)),
		"documents": strconv.Itoa(total),
	}, nil
}

func (s *Service) rebuildTypes(target domain.EntityType) ([]domain.EntityType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target != "" {
		if _, ok := s.sources[target]; !ok {
			return nil, domain.NewError(domain.KindUnknownDocument, fmt.Sprintf("no index source for %q", target))
		}
		return []domain.EntityType{target}, nil
	}

	types := make([]domain.EntityType, 0, len(s.sources))
	for t := range s.sources {
		types = append(types, t)
	}
	if len(types) == 0 {
		return nil, domain.NewError(domain.KindUnknownDocument, "no index sources registered")
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types, nil
}
