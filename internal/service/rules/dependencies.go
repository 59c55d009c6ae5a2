package rules

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// AffectedRules is the result of a dependency query: the rule sets and
// individual rules that must be re-evaluated after a structural change.
type AffectedRules struct {
	RuleSets []domain.RecodeRuleSet
	Rules    []domain.RecodeRule
}

// IsEmpty reports whether nothing depends on the changed entities.
func (a AffectedRules) IsEmpty() bool {
	return len(a.RuleSets) == 0 && len(a.Rules) == 0
}

// ModifyByDependencies computes the rules and rule sets affected by a
// change to entities of one class. The caller (the propagation engine)
// decides what to do with them; this query performs no writes.
//
//   - MetaField: every active set referencing one of the ids as from or to
//   - Field: every active rule keyed to one of the ids as from or to
//   - Dictionary: expands to the dictionaries' meta fields
//   - Group: expands to the group's dictionaries, then their meta fields
func (s *Service) ModifyByDependencies(ctx context.Context, kind domain.EntityType, ids []uuid.UUID) (AffectedRules, error) {
	if len(ids) == 0 {
		return AffectedRules{}, nil
	}

	switch kind {
	case domain.EntityMetaField:
		sets, err := s.ruleSets.ListActiveByMetaFields(ctx, ids)
		if err != nil {
			return AffectedRules{}, fmt.Errorf("list dependent rule sets: %w", err)
		}
		return AffectedRules{RuleSets: sets}, nil

	case domain.EntityField:
		rules, err := s.rules.ListActiveByFields(ctx, ids)
		if err != nil {
			return AffectedRules{}, fmt.Errorf("list dependent rules: %w", err)
		}
		return AffectedRules{Rules: rules}, nil

	case domain.EntityDictionary:
		metaFieldIDs, err := s.metaFieldIDsOf(ctx, ids)
		if err != nil {
			return AffectedRules{}, err
		}
		return s.ModifyByDependencies(ctx, domain.EntityMetaField, metaFieldIDs)

	case domain.EntityGroup:
		var dictIDs []uuid.UUID
		for _, groupID := range ids {
			dicts, err := s.dicts.ListByGroup(ctx, groupID)
			if err != nil {
				return AffectedRules{}, fmt.Errorf("list dictionaries: %w", err)
			}
			for i := range dicts {
				dictIDs = append(dictIDs, dicts[i].ID)
			}
		}
		return s.ModifyByDependencies(ctx, domain.EntityDictionary, dictIDs)

	default:
		return AffectedRules{}, fmt.Errorf("dependencies of %s are not tracked", kind)
	}
}

func (s *Service) metaFieldIDsOf(ctx context.Context, dictionaryIDs []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, dictID := range dictionaryIDs {
		metaFields, err := s.metaFields.ListByDictionary(ctx, dictID)
		if err != nil {
			return nil, fmt.Errorf("list meta fields: %w", err)
		}
		for i := range metaFields {
			out = append(out, metaFields[i].ID)
		}
	}
	return out, nil
}
