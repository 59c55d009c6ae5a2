package rules

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// FindUnmatchedDictionaries reports the dictionaries of a group that
// cannot be fully recoded. A dictionary is unmatched when it has no
// outbound rule set at all, or when at least one outbound set lacks a
// default target while at least one of the dictionary's primary-field
// values has no applicable rule. A set without a default whose rules cover
// every actual value is NOT unmatched.
//
// With fillTransitive, a value counts as covered when a transitive chain
// maps it even though the direct set does not.
func (s *Service) FindUnmatchedDictionaries(ctx context.Context, groupID uuid.UUID, fillTransitive bool) ([]domain.UnmatchedDictionary, error) {
	dicts, err := s.dicts.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list dictionaries: %w", err)
	}

	var unmatched []domain.UnmatchedDictionary
	for i := range dicts {
		dict := &dicts[i]
		if dict.IsClosed() {
			continue
		}

		entry, err := s.checkDictionary(ctx, dict, fillTransitive)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			unmatched = append(unmatched, *entry)
		}
	}
	return unmatched, nil
}

func (s *Service) checkDictionary(ctx context.Context, dict *domain.Dictionary, fillTransitive bool) (*domain.UnmatchedDictionary, error) {
	metaFields, err := s.metaFields.ListByDictionary(ctx, dict.ID)
	if err != nil {
		return nil, fmt.Errorf("list meta fields: %w", err)
	}
	metaFieldIDs := make([]uuid.UUID, 0, len(metaFields))
	for i := range metaFields {
		if !metaFields[i].IsClosed() {
			metaFieldIDs = append(metaFieldIDs, metaFields[i].ID)
		}
	}

	outbound, err := s.ruleSets.ListActiveByFromMetaFields(ctx, metaFieldIDs)
	if err != nil {
		return nil, fmt.Errorf("list outbound rule sets: %w", err)
	}
	if len(outbound) == 0 {
		return &domain.UnmatchedDictionary{
			DictionaryID:   dict.ID,
			Path:           dict.Path(),
			MissingRuleSet: true,
		}, nil
	}

	primaryFields, err := s.catalog.PrimaryFieldValues(ctx, dict.ID)
	if err != nil {
		return nil, fmt.Errorf("load primary values: %w", err)
	}

	unmapped := make(map[uuid.UUID][]string)
	for i := range outbound {
		set := &outbound[i]
		if set.DefaultFieldID != nil {
			continue
		}

		covered, err := s.coveredFromFields(ctx, set, primaryFields, fillTransitive)
		if err != nil {
			return nil, err
		}

		for j := range primaryFields {
			field := &primaryFields[j]
			if field.IsClosed() || covered[field.ID] {
				continue
			}
			unmapped[set.ID] = append(unmapped[set.ID], renderFieldValue(field))
		}
	}

	if len(unmapped) == 0 {
		return nil, nil
	}
	return &domain.UnmatchedDictionary{
		DictionaryID:   dict.ID,
		Path:           dict.Path(),
		UnmappedValues: unmapped,
	}, nil
}

// coveredFromFields returns the source field ids a set's rules map. With
// fillTransitive a value also counts as covered when any acyclic chain of
// other active sets maps it to the same target meta field; sourceFields
// seeds that walk.
func (s *Service) coveredFromFields(ctx context.Context, set *domain.RecodeRuleSet, sourceFields []domain.Field, fillTransitive bool) (map[uuid.UUID]bool, error) {
	covered := make(map[uuid.UUID]bool)

	rules, err := s.rules.ListActiveByRuleSet(ctx, set.ID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	for i := range rules {
		covered[rules[i].FromFieldID] = true
	}

	if !fillTransitive {
		return covered, nil
	}

	all, err := s.ruleSets.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rule sets: %w", err)
	}
	bySource := make(map[uuid.UUID][]*domain.RecodeRuleSet)
	for i := range all {
		bySource[all[i].FromMetaFieldID] = append(bySource[all[i].FromMetaFieldID], &all[i])
	}

	// Depth-first over acyclic set-chains, carrying the surviving
	// source→current field mapping. Every chain reaching the target meta
	// field contributes its surviving sources to the covered set.
	var walk func(current uuid.UUID, mapping map[uuid.UUID]uuid.UUID, visited map[uuid.UUID]bool) error
	walk = func(current uuid.UUID, mapping map[uuid.UUID]uuid.UUID, visited map[uuid.UUID]bool) error {
		if current == set.ToMetaFieldID {
			for source := range mapping {
				covered[source] = true
			}
			return nil
		}
		for _, next := range bySource[current] {
			if visited[next.ToMetaFieldID] {
				continue
			}
			hopRules, err := s.rules.ListActiveByRuleSet(ctx, next.ID)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}
			byFrom := make(map[uuid.UUID]uuid.UUID, len(hopRules))
			for i := range hopRules {
				byFrom[hopRules[i].FromFieldID] = hopRules[i].ToFieldID
			}

			joined := make(map[uuid.UUID]uuid.UUID)
			for source, at := range mapping {
				if to, ok := byFrom[at]; ok {
					joined[source] = to
				}
			}
			if len(joined) == 0 {
				continue
			}

			visited[next.ToMetaFieldID] = true
			if err := walk(next.ToMetaFieldID, joined, visited); err != nil {
				return err
			}
			delete(visited, next.ToMetaFieldID)
		}
		return nil
	}

	identity := make(map[uuid.UUID]uuid.UUID, len(sourceFields))
	for i := range sourceFields {
		identity[sourceFields[i].ID] = sourceFields[i].ID
	}
	visited := map[uuid.UUID]bool{set.FromMetaFieldID: true}
	if err := walk(set.FromMetaFieldID, identity, visited); err != nil {
		return nil, err
	}
	return covered, nil
}

func renderFieldValue(f *domain.Field) string {
	if f.Value == nil {
		return "<nil>"
	}
	return *f.Value
}
