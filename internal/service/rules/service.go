// Package rules implements the recode rule resolution engine: rule set and
// rule storage semantics, NamedPath-based resolution with optional
// transitive composition, unmatched-dictionary analysis, and the
// all-or-nothing Modify batch.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// ---------------------------------------------------------------------------
// Consumer-defined interfaces (private)
// ---------------------------------------------------------------------------

type ruleSetRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error)
	GetActiveByPair(ctx context.Context, fromMetaFieldID, toMetaFieldID uuid.UUID) (*domain.RecodeRuleSet, error)
	ListActive(ctx context.Context) ([]domain.RecodeRuleSet, error)
	ListActiveByFromMetaFields(ctx context.Context, metaFieldIDs []uuid.UUID) ([]domain.RecodeRuleSet, error)
	ListActiveByMetaFields(ctx context.Context, metaFieldIDs []uuid.UUID) ([]domain.RecodeRuleSet, error)
	Create(ctx context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error)
	Update(ctx context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error)
	Close(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type ruleRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RecodeRule, error)
	ListActiveByRuleSet(ctx context.Context, ruleSetID uuid.UUID) ([]domain.RecodeRule, error)
	ListActiveByRuleSets(ctx context.Context, ruleSetIDs []uuid.UUID) ([]domain.RecodeRule, error)
	ListActiveByFields(ctx context.Context, fieldIDs []uuid.UUID) ([]domain.RecodeRule, error)
	Create(ctx context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error)
	Update(ctx context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error)
	Close(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// catalog is the slice of the hierarchy service the rule engine needs.
type catalog interface {
	ResolveMetaField(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.MetaField, error)
	ResolveField(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.Field, error)
	PrimaryFieldValues(ctx context.Context, dictionaryID uuid.UUID) ([]domain.Field, error)
}

type dictionaryReader interface {
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Dictionary, error)
}

type metaFieldReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MetaField, error)
	ListByDictionary(ctx context.Context, dictionaryID uuid.UUID) ([]domain.MetaField, error)
}

type fieldReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Field, error)
}

type recorder interface {
	Record(ctx context.Context, targetID uuid.UUID, targetType domain.EntityType, eventType domain.EventType, eventDate time.Time, diffs []domain.Diff) (bool, error)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service implements the rule resolution engine. It owns no goroutines:
// every operation runs synchronously in the caller's unit of work and is
// safe for concurrent use.
type Service struct {
	log        *slog.Logger
	ruleSets   ruleSetRepo
	rules      ruleRepo
	catalog    catalog
	dicts      dictionaryReader
	metaFields metaFieldReader
	fields     fieldReader
	history    recorder
	tx         txManager
}

// NewService creates the rule resolution service.
func NewService(
	logger *slog.Logger,
	ruleSets ruleSetRepo,
	rules ruleRepo,
	catalog catalog,
	dicts dictionaryReader,
	metaFields metaFieldReader,
	fields fieldReader,
	history recorder,
	tx txManager,
) *Service {
	return &Service{
		log:        logger,
		ruleSets:   ruleSets,
		rules:      rules,
		catalog:    catalog,
		dicts:      dicts,
		metaFields: metaFields,
		fields:     fields,
		history:    history,
		tx:         tx,
	}
}

// FindRuleSetByID returns a rule set with its active rules loaded.
func (s *Service) FindRuleSetByID(ctx context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error) {
	set, err := s.ruleSets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load rule set: %w", err)
	}
	rules, err := s.rules.ListActiveByRuleSet(ctx, set.ID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	set.Rules = rules
	return set, nil
}

// FindRulesByFieldIDs returns the active rules keyed to any of the given
// fields, as from or to side.
func (s *Service) FindRulesByFieldIDs(ctx context.Context, fieldIDs []uuid.UUID) ([]domain.RecodeRule, error) {
	if len(fieldIDs) == 0 {
		return nil, nil
	}
	return s.rules.ListActiveByFields(ctx, fieldIDs)
}
