package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// ===========================================================================
// Manual mocks (moq-style with func fields)
// ===========================================================================

type mockRuleSetRepo struct {
	GetByIDFunc                    func(ctx context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error)
	GetActiveByPairFunc            func(ctx context.Context, fromID, toID uuid.UUID) (*domain.RecodeRuleSet, error)
	ListActiveFunc                 func(ctx context.Context) ([]domain.RecodeRuleSet, error)
	ListActiveByFromMetaFieldsFunc func(ctx context.Context, ids []uuid.UUID) ([]domain.RecodeRuleSet, error)
	ListActiveByMetaFieldsFunc     func(ctx context.Context, ids []uuid.UUID) ([]domain.RecodeRuleSet, error)
	CreateFunc                     func(ctx context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error)
	UpdateFunc                     func(ctx context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error)
	CloseFunc                      func(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

func (m *mockRuleSetRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockRuleSetRepo) GetActiveByPair(ctx context.Context, fromID, toID uuid.UUID) (*domain.RecodeRuleSet, error) {
	if m.GetActiveByPairFunc != nil {
		return m.GetActiveByPairFunc(ctx, fromID, toID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockRuleSetRepo) ListActive(ctx context.Context) ([]domain.RecodeRuleSet, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx)
	}
	return nil, nil
}

func (m *mockRuleSetRepo) ListActiveByFromMetaFields(ctx context.Context, ids []uuid.UUID) ([]domain.RecodeRuleSet, error) {
	if m.ListActiveByFromMetaFieldsFunc != nil {
		return m.ListActiveByFromMetaFieldsFunc(ctx, ids)
	}
	return nil, nil
}

func (m *mockRuleSetRepo) ListActiveByMetaFields(ctx context.Context, ids []uuid.UUID) ([]domain.RecodeRuleSet, error) {
	if m.ListActiveByMetaFieldsFunc != nil {
		return m.ListActiveByMetaFieldsFunc(ctx, ids)
	}
	return nil, nil
}

func (m *mockRuleSetRepo) Create(ctx context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, set)
	}
	return set, nil
}

func (m *mockRuleSetRepo) Update(ctx context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, set)
	}
	return set, nil
}

func (m *mockRuleSetRepo) Close(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if m.CloseFunc != nil {
		return m.CloseFunc(ctx, ids, at)
	}
	return nil
}

type mockRuleRepo struct {
	GetByIDFunc              func(ctx context.Context, id uuid.UUID) (*domain.RecodeRule, error)
	ListActiveByRuleSetFunc  func(ctx context.Context, ruleSetID uuid.UUID) ([]domain.RecodeRule, error)
	ListActiveByRuleSetsFunc func(ctx context.Context, ruleSetIDs []uuid.UUID) ([]domain.RecodeRule, error)
	ListActiveByFieldsFunc   func(ctx context.Context, fieldIDs []uuid.UUID) ([]domain.RecodeRule, error)
	CreateFunc               func(ctx context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error)
	UpdateFunc               func(ctx context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error)
	CloseFunc                func(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

func (m *mockRuleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecodeRule, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockRuleRepo) ListActiveByRuleSet(ctx context.Context, ruleSetID uuid.UUID) ([]domain.RecodeRule, error) {
	if m.ListActiveByRuleSetFunc != nil {
		return m.ListActiveByRuleSetFunc(ctx, ruleSetID)
	}
	return nil, nil
}

func (m *mockRuleRepo) ListActiveByRuleSets(ctx context.Context, ruleSetIDs []uuid.UUID) ([]domain.RecodeRule, error) {
	if m.ListActiveByRuleSetsFunc != nil {
		return m.ListActiveByRuleSetsFunc(ctx, ruleSetIDs)
	}
	return nil, nil
}

func (m *mockRuleRepo) ListActiveByFields(ctx context.Context, fieldIDs []uuid.UUID) ([]domain.RecodeRule, error) {
	if m.ListActiveByFieldsFunc != nil {
		return m.ListActiveByFieldsFunc(ctx, fieldIDs)
	}
	return nil, nil
}

func (m *mockRuleRepo) Create(ctx context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rule)
	}
	return rule, nil
}

func (m *mockRuleRepo) Update(ctx context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, rule)
	}
	return rule, nil
}

func (m *mockRuleRepo) Close(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if m.CloseFunc != nil {
		return m.CloseFunc(ctx, ids, at)
	}
	return nil
}

type mockCatalog struct {
	ResolveMetaFieldFunc   func(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.MetaField, error)
	ResolveFieldFunc       func(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.Field, error)
	PrimaryFieldValuesFunc func(ctx context.Context, dictionaryID uuid.UUID) ([]domain.Field, error)
}

func (m *mockCatalog) ResolveMetaField(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.MetaField, error) {
	if m.ResolveMetaFieldFunc != nil {
		return m.ResolveMetaFieldFunc(ctx, path, quietly)
	}
	if quietly {
		return nil, nil
	}
	return nil, domain.NewPathError(domain.KindUnknownDocument, path, "no entity matches path")
}

func (m *mockCatalog) ResolveField(ctx context.Context, path domain.NamedPath, quietly bool) (*domain.Field, error) {
	if m.ResolveFieldFunc != nil {
		return m.ResolveFieldFunc(ctx, path, quietly)
	}
	if quietly {
		return nil, nil
	}
	return nil, domain.NewPathError(domain.KindUnknownDocument, path, "no entity matches path")
}

func (m *mockCatalog) PrimaryFieldValues(ctx context.Context, dictionaryID uuid.UUID) ([]domain.Field, error) {
	if m.PrimaryFieldValuesFunc != nil {
		return m.PrimaryFieldValuesFunc(ctx, dictionaryID)
	}
	return nil, nil
}

type mockDictionaryReader struct {
	ListByGroupFunc func(ctx context.Context, groupID uuid.UUID) ([]domain.Dictionary, error)
}

func (m *mockDictionaryReader) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Dictionary, error) {
	if m.ListByGroupFunc != nil {
		return m.ListByGroupFunc(ctx, groupID)
	}
	return nil, nil
}

type mockMetaFieldReader struct {
	GetByIDFunc          func(ctx context.Context, id uuid.UUID) (*domain.MetaField, error)
	ListByDictionaryFunc func(ctx context.Context, dictionaryID uuid.UUID) ([]domain.MetaField, error)
}

func (m *mockMetaFieldReader) GetByID(ctx context.Context, id uuid.UUID) (*domain.MetaField, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockMetaFieldReader) ListByDictionary(ctx context.Context, dictionaryID uuid.UUID) ([]domain.MetaField, error) {
	if m.ListByDictionaryFunc != nil {
		return m.ListByDictionaryFunc(ctx, dictionaryID)
	}
	return nil, nil
}

type mockFieldReader struct {
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*domain.Field, error)
}

func (m *mockFieldReader) GetByID(ctx context.Context, id uuid.UUID) (*domain.Field, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type mockRecorder struct {
	RecordFunc func(ctx context.Context, targetID uuid.UUID, targetType domain.EntityType, eventType domain.EventType, eventDate time.Time, diffs []domain.Diff) (bool, error)
}

func (m *mockRecorder) Record(ctx context.Context, targetID uuid.UUID, targetType domain.EntityType, eventType domain.EventType, eventDate time.Time, diffs []domain.Diff) (bool, error) {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, targetID, targetType, eventType, eventDate, diffs)
	}
	return true, nil
}

type mockTx struct{}

func (mockTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ===========================================================================
// Fixture
// ===========================================================================

type fixture struct {
	ruleSets   *mockRuleSetRepo
	rules      *mockRuleRepo
	catalog    *mockCatalog
	dicts      *mockDictionaryReader
	metaFields *mockMetaFieldReader
	fields     *mockFieldReader
	history    *mockRecorder
	svc        *Service
}

func newFixture() *fixture {
	f := &fixture{
		ruleSets:   &mockRuleSetRepo{},
		rules:      &mockRuleRepo{},
		catalog:    &mockCatalog{},
		dicts:      &mockDictionaryReader{},
		metaFields: &mockMetaFieldReader{},
		fields:     &mockFieldReader{},
		history:    &mockRecorder{},
	}
	f.svc = NewService(
		slog.New(slog.DiscardHandler),
		f.ruleSets, f.rules, f.catalog, f.dicts, f.metaFields, f.fields, f.history, mockTx{},
	)
	return f
}

// graph is an in-memory rule graph the mocks serve from.
type graph struct {
	metaFields map[uuid.UUID]*domain.MetaField
	sets       []domain.RecodeRuleSet
	rules      []domain.RecodeRule
	pathToMF   map[domain.PathKey]uuid.UUID
}

func newGraph() *graph {
	return &graph{
		metaFields: make(map[uuid.UUID]*domain.MetaField),
		pathToMF:   make(map[domain.PathKey]uuid.UUID),
	}
}

func (g *graph) addMetaField(group, dict, name string) uuid.UUID {
	id := uuid.New()
	g.metaFields[id] = &domain.MetaField{
		ID:             id,
		GroupName:      group,
		DictionaryName: dict,
		Name:           name,
		Flags:          domain.FlagPrimary,
	}
	g.pathToMF[domain.MetaFieldPath(group, dict, name).Key()] = id
	return id
}

func (g *graph) addSet(name string, from, to uuid.UUID) uuid.UUID {
	id := uuid.New()
	g.sets = append(g.sets, domain.RecodeRuleSet{
		ID:              id,
		Name:            name,
		FromMetaFieldID: from,
		ToMetaFieldID:   to,
		State:           domain.RuleStateActive,
	})
	return id
}

func (g *graph) addRule(setID, fromField, toField uuid.UUID) uuid.UUID {
	id := uuid.New()
	g.rules = append(g.rules, domain.RecodeRule{
		ID:          id,
		RuleSetID:   setID,
		FromFieldID: fromField,
		ToFieldID:   toField,
		State:       domain.RuleStateActive,
	})
	return id
}

// install wires the graph into the fixture mocks.
func (f *fixture) install(g *graph) {
	f.catalog.ResolveMetaFieldFunc = func(_ context.Context, path domain.NamedPath, quietly bool) (*domain.MetaField, error) {
		if id, ok := g.pathToMF[path.Key()]; ok {
			return g.metaFields[id], nil
		}
		if quietly {
			return nil, nil
		}
		return nil, domain.NewPathError(domain.KindUnknownDocument, path, "no entity matches path")
	}
	f.ruleSets.GetActiveByPairFunc = func(_ context.Context, fromID, toID uuid.UUID) (*domain.RecodeRuleSet, error) {
		for i := range g.sets {
			if g.sets[i].FromMetaFieldID == fromID && g.sets[i].ToMetaFieldID == toID {
				cp := g.sets[i]
				return &cp, nil
			}
		}
		return nil, domain.ErrNotFound
	}
	f.ruleSets.ListActiveFunc = func(context.Context) ([]domain.RecodeRuleSet, error) {
		out := make([]domain.RecodeRuleSet, len(g.sets))
		copy(out, g.sets)
		return out, nil
	}
	f.rules.ListActiveByRuleSetFunc = func(_ context.Context, setID uuid.UUID) ([]domain.RecodeRule, error) {
		var out []domain.RecodeRule
		for i := range g.rules {
			if g.rules[i].RuleSetID == setID {
				out = append(out, g.rules[i])
			}
		}
		return out, nil
	}
}
