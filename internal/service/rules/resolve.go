package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// FindRuleSetByPath resolves the rule set for an ordered (from, to) meta
// field pair addressed by NamedPaths.
//
// A direct active set wins. When none exists and fillTransitive is set,
// the engine composes an effective view across chained sets (breadth-first
// from the source; the first complete chain wins; cycles are cut by
// visited tracking). With quietly, "no rule set" is returned as (nil, nil)
// instead of an unknown-rule-set error. Self-mapping is rejected before
// any resolution or composition.
func (s *Service) FindRuleSetByPath(
	ctx context.Context,
	fromPath, toPath domain.NamedPath,
	fillTransitive, quietly bool,
) (*domain.RuleSetView, error) {
	if fromPath.Equal(toPath) {
		return nil, domain.NewPathError(domain.KindSelfMapping, fromPath, "rule set source and target are identical")
	}

	from, err := s.catalog.ResolveMetaField(ctx, fromPath, quietly)
	if err != nil || from == nil {
		return nil, err
	}
	to, err := s.catalog.ResolveMetaField(ctx, toPath, quietly)
	if err != nil || to == nil {
		return nil, err
	}
	if from.ID == to.ID {
		return nil, domain.NewPathError(domain.KindSelfMapping, fromPath, "rule set source and target are identical")
	}

	view, err := s.resolvePair(ctx, from.ID, to.ID, fillTransitive)
	if err != nil {
		return nil, err
	}
	if view == nil {
		if quietly {
			return nil, nil
		}
		return nil, domain.NewPathError(domain.KindUnknownRuleSet, fromPath,
			fmt.Sprintf("no rule set maps %s to %s", fromPath, toPath))
	}
	return view, nil
}

// FindRuleSetsByPaths resolves a batch of ordered pairs. Pairs resolve
// independently; with quietly, missing entries are simply absent from the
// result.
func (s *Service) FindRuleSetsByPaths(
	ctx context.Context,
	pairs [][2]domain.NamedPath,
	fillTransitive, quietly bool,
) ([]domain.RuleSetView, error) {
	views := make([]domain.RuleSetView, 0, len(pairs))
	for _, pair := range pairs {
		view, err := s.FindRuleSetByPath(ctx, pair[0], pair[1], fillTransitive, quietly)
		if err != nil {
			return nil, err
		}
		if view != nil {
			views = append(views, *view)
		}
	}
	return views, nil
}

func (s *Service) resolvePair(ctx context.Context, fromID, toID uuid.UUID, fillTransitive bool) (*domain.RuleSetView, error) {
	direct, err := s.ruleSets.GetActiveByPair(ctx, fromID, toID)
	if err == nil && direct != nil {
		rules, err := s.rules.ListActiveByRuleSet(ctx, direct.ID)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		direct.Rules = rules
		return &domain.RuleSetView{RuleSet: *direct}, nil
	}
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("load rule set by pair: %w", err)
	}

	if !fillTransitive {
		return nil, nil
	}
	return s.composeTransitive(ctx, fromID, toID)
}

// composeTransitive searches for a chain from → … → to across active rule
// sets and joins the chain into one effective view. The search is
// breadth-first over meta fields; each rule set is entered at most once,
// so the walk terminates within the number of distinct sets even when the
// graph contains cycles.
func (s *Service) composeTransitive(ctx context.Context, fromID, toID uuid.UUID) (*domain.RuleSetView, error) {
	all, err := s.ruleSets.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rule sets: %w", err)
	}

	bySource := make(map[uuid.UUID][]*domain.RecodeRuleSet)
	for i := range all {
		bySource[all[i].FromMetaFieldID] = append(bySource[all[i].FromMetaFieldID], &all[i])
	}

	type hop struct {
		metaField uuid.UUID
		via       *domain.RecodeRuleSet
		prev      *hop
	}

	visited := map[uuid.UUID]bool{fromID: true}
	queue := []*hop{{metaField: fromID}}

	var terminal *hop
	for len(queue) > 0 && terminal == nil {
		cur := queue[0]
		queue = queue[1:]

		for _, set := range bySource[cur.metaField] {
			if visited[set.ToMetaFieldID] {
				continue
			}
			visited[set.ToMetaFieldID] = true
			next := &hop{metaField: set.ToMetaFieldID, via: set, prev: cur}
			if set.ToMetaFieldID == toID {
				terminal = next
				break
			}
			queue = append(queue, next)
		}
	}

	if terminal == nil {
		return nil, nil
	}

	// Unwind the chain into source order.
	var chain []*domain.RecodeRuleSet
	for h := terminal; h.via != nil; h = h.prev {
		chain = append([]*domain.RecodeRuleSet{h.via}, chain...)
	}

	return s.joinChain(ctx, fromID, toID, chain)
}

// joinChain composes the chain's rules by matching each hop's target field
// to the next hop's source field. A value survives the composition only if
// every hop maps it. Defaults do not compose: the effective view carries
// no default unless the chain is a single set.
func (s *Service) joinChain(ctx context.Context, fromID, toID uuid.UUID, chain []*domain.RecodeRuleSet) (*domain.RuleSetView, error) {
	names := make([]string, len(chain))
	chainIDs := make([]uuid.UUID, len(chain))
	for i, set := range chain {
		names[i] = set.Name
		chainIDs[i] = set.ID
	}

	composed, err := s.rules.ListActiveByRuleSet(ctx, chain[0].ID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	for _, set := range chain[1:] {
		next, err := s.rules.ListActiveByRuleSet(ctx, set.ID)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		byFrom := make(map[uuid.UUID]*domain.RecodeRule, len(next))
		for i := range next {
			byFrom[next[i].FromFieldID] = &next[i]
		}

		joined := composed[:0]
		for _, rule := range composed {
			hop, ok := byFrom[rule.ToFieldID]
			if !ok {
				continue
			}
			rule.ToFieldID = hop.ToFieldID
			joined = append(joined, rule)
		}
		composed = joined
	}

	var defaultField *uuid.UUID
	if len(chain) == 1 {
		defaultField = chain[0].DefaultFieldID
	}

	return &domain.RuleSetView{
		RuleSet: domain.RecodeRuleSet{
			ID:              chain[len(chain)-1].ID,
			Name:            strings.Join(names, " > "),
			FromMetaFieldID: fromID,
			ToMetaFieldID:   toID,
			DefaultFieldID:  defaultField,
			State:           domain.RuleStateActive,
			Rules:           composed,
		},
		Transitive: len(chain) > 1,
		Chain:      chainIDs,
	}, nil
}

// Apply maps one source field through the view. It returns the target
// field id, falling back to the set default when no rule matches. The
// boolean reports whether any mapping (rule or default) applied.
func Apply(view *domain.RuleSetView, fromFieldID uuid.UUID) (uuid.UUID, bool) {
	for i := range view.RuleSet.Rules {
		if view.RuleSet.Rules[i].FromFieldID == fromFieldID {
			return view.RuleSet.Rules[i].ToFieldID, true
		}
	}
	if view.RuleSet.DefaultFieldID != nil {
		return *view.RuleSet.DefaultFieldID, true
	}
	return uuid.Nil, false
}
