package rules

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeenkov/recodehub/internal/domain"
)

func strptr(s string) *string { return &s }

func TestCreateRuleSet_SelfMappingRejectedBeforeResolution(t *testing.T) {
	f := newFixture()
	resolved := false
	f.catalog.ResolveMetaFieldFunc = func(context.Context, domain.NamedPath, bool) (*domain.MetaField, error) {
		resolved = true
		return nil, domain.ErrNotFound
	}

	same := domain.MetaFieldPath("fns", "okved", "code")
	_, err := f.svc.CreateRuleSet(context.Background(), CreateRuleSetInput{
		Name: "loop", FromPath: same, ToPath: same,
	})

	assert.True(t, domain.IsKind(err, domain.KindSelfMapping))
	assert.False(t, resolved, "self-mapping must be rejected without touching the catalog")
}

func TestCreateRuleSet_DuplicateActivePair(t *testing.T) {
	f := newFixture()
	g := newGraph()
	a := g.addMetaField("fns", "okved", "code")
	b := g.addMetaField("fns", "okved2", "code")
	g.addSet("existing", a, b)
	f.install(g)

	_, err := f.svc.CreateRuleSet(context.Background(), CreateRuleSetInput{
		Name:     "duplicate",
		FromPath: domain.MetaFieldPath("fns", "okved", "code"),
		ToPath:   domain.MetaFieldPath("fns", "okved2", "code"),
	})
	assert.True(t, domain.IsKind(err, domain.KindIllegalRule))
}

func TestCreateRuleSet_DefaultMustBelongToTarget(t *testing.T) {
	f := newFixture()
	g := newGraph()
	g.addMetaField("fns", "okved", "code")
	b := g.addMetaField("fns", "okved2", "code")
	f.install(g)

	stray := &domain.Field{ID: uuid.New(), MetaFieldID: uuid.New(), Value: strptr("01.1")}
	f.catalog.ResolveFieldFunc = func(context.Context, domain.NamedPath, bool) (*domain.Field, error) {
		return stray, nil
	}

	defPath := domain.FieldPath("fns", "okved2", "code", strptr("01.1"))
	_, err := f.svc.CreateRuleSet(context.Background(), CreateRuleSetInput{
		Name:        "with-default",
		FromPath:    domain.MetaFieldPath("fns", "okved", "code"),
		ToPath:      domain.MetaFieldPath("fns", "okved2", "code"),
		DefaultPath: &defPath,
	})
	assert.True(t, domain.IsKind(err, domain.KindIllegalRule))

	// Pointing the default at the target meta field makes it pass.
	stray.MetaFieldID = b
	var created *domain.RecodeRuleSet
	f.ruleSets.CreateFunc = func(_ context.Context, set *domain.RecodeRuleSet) (*domain.RecodeRuleSet, error) {
		created = set
		return set, nil
	}
	set, err := f.svc.CreateRuleSet(context.Background(), CreateRuleSetInput{
		Name:        "with-default",
		FromPath:    domain.MetaFieldPath("fns", "okved", "code"),
		ToPath:      domain.MetaFieldPath("fns", "okved2", "code"),
		DefaultPath: &defPath,
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	require.NotNil(t, set.DefaultFieldID)
	assert.Equal(t, stray.ID, *set.DefaultFieldID)
}

func TestModify_ValidationFailureAbortsWholeBatch(t *testing.T) {
	f := newFixture()
	g := newGraph()
	src := g.addMetaField("fns", "okved", "code")
	dst := g.addMetaField("fns", "okved2", "code")
	setID := g.addSet("s", src, dst)
	f.install(g)

	f.ruleSets.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error) {
		for i := range g.sets {
			if g.sets[i].ID == id {
				cp := g.sets[i]
				return &cp, nil
			}
		}
		return nil, domain.ErrNotFound
	}

	goodFrom := &domain.Field{ID: uuid.New(), MetaFieldID: src, Value: strptr("01")}
	goodTo := &domain.Field{ID: uuid.New(), MetaFieldID: dst, Value: strptr("01.1")}
	f.fields.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*domain.Field, error) {
		switch id {
		case goodFrom.ID:
			return goodFrom, nil
		case goodTo.ID:
			return goodTo, nil
		}
		return nil, domain.ErrNotFound
	}
	f.metaFields.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*domain.MetaField, error) {
		if mf, ok := g.metaFields[id]; ok {
			return mf, nil
		}
		return nil, domain.ErrNotFound
	}

	var writes int
	f.rules.CreateFunc = func(_ context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error) {
		writes++
		return rule, nil
	}

	same := uuid.New()
	batch := domain.RuleModifyBatch{
		ToCreate: []domain.RecodeRule{
			{RuleSetID: setID, FromFieldID: goodFrom.ID, ToFieldID: goodTo.ID},
			{RuleSetID: setID, FromFieldID: same, ToFieldID: same}, // self-mapping
		},
	}

	err := f.svc.Modify(context.Background(), batch, true)
	assert.True(t, domain.IsKind(err, domain.KindSelfMapping))
	assert.Zero(t, writes, "a failing rule must abort the batch before any write")
}

func TestModify_UnknownRuleSet(t *testing.T) {
	f := newFixture()

	batch := domain.RuleModifyBatch{
		ToCreate: []domain.RecodeRule{
			{RuleSetID: uuid.New(), FromFieldID: uuid.New(), ToFieldID: uuid.New()},
		},
	}
	err := f.svc.Modify(context.Background(), batch, true)
	assert.True(t, domain.IsKind(err, domain.KindUnknownRuleSet))
}

func TestModify_PrimarySourceWithoutValue(t *testing.T) {
	f := newFixture()
	g := newGraph()
	src := g.addMetaField("fns", "okved", "code")
	dst := g.addMetaField("fns", "okved2", "code")
	setID := g.addSet("s", src, dst)
	f.install(g)

	f.ruleSets.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error) {
		cp := g.sets[0]
		return &cp, nil
	}
	from := &domain.Field{ID: uuid.New(), MetaFieldID: src} // nil value on a primary meta field
	to := &domain.Field{ID: uuid.New(), MetaFieldID: dst, Value: strptr("01.1")}
	f.fields.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*domain.Field, error) {
		if id == from.ID {
			return from, nil
		}
		return to, nil
	}
	f.metaFields.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*domain.MetaField, error) {
		return g.metaFields[id], nil
	}

	err := f.svc.Modify(context.Background(), domain.RuleModifyBatch{
		ToCreate: []domain.RecodeRule{{RuleSetID: setID, FromFieldID: from.ID, ToFieldID: to.ID}},
	}, true)
	assert.True(t, domain.IsKind(err, domain.KindIncompleteData))
}

func TestModify_SkipValidation(t *testing.T) {
	f := newFixture()

	var created []domain.RecodeRule
	f.rules.CreateFunc = func(_ context.Context, rule *domain.RecodeRule) (*domain.RecodeRule, error) {
		created = append(created, *rule)
		return rule, nil
	}

	// needValidation=false trusts the caller, as the propagation engine
	// does when replaying already validated rules.
	err := f.svc.Modify(context.Background(), domain.RuleModifyBatch{
		ToCreate: []domain.RecodeRule{{RuleSetID: uuid.New(), FromFieldID: uuid.New(), ToFieldID: uuid.New()}},
	}, false)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.NotEqual(t, uuid.Nil, created[0].ID)
	assert.Equal(t, domain.RuleStateActive, created[0].State)
}

func TestCloseRuleSets_RulesClosedBeforeSets(t *testing.T) {
	f := newFixture()
	g := newGraph()
	src := g.addMetaField("fns", "okved", "code")
	dst := g.addMetaField("fns", "okved2", "code")
	setID := g.addSet("s", src, dst)
	ruleID := g.addRule(setID, uuid.New(), uuid.New())
	f.install(g)

	f.ruleSets.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error) {
		cp := g.sets[0]
		return &cp, nil
	}
	f.rules.ListActiveByRuleSetsFunc = func(_ context.Context, ids []uuid.UUID) ([]domain.RecodeRule, error) {
		return g.rules, nil
	}

	var order []string
	f.rules.CloseFunc = func(_ context.Context, ids []uuid.UUID, _ time.Time) error {
		require.Equal(t, []uuid.UUID{ruleID}, ids)
		order = append(order, "rules")
		return nil
	}
	f.ruleSets.CloseFunc = func(_ context.Context, ids []uuid.UUID, _ time.Time) error {
		require.Equal(t, []uuid.UUID{setID}, ids)
		order = append(order, "sets")
		return nil
	}

	var recorded []domain.EventType
	f.history.RecordFunc = func(_ context.Context, _ uuid.UUID, _ domain.EntityType, eventType domain.EventType, _ time.Time, _ []domain.Diff) (bool, error) {
		recorded = append(recorded, eventType)
		return true, nil
	}

	require.NoError(t, f.svc.CloseRuleSets(context.Background(), []uuid.UUID{setID}))
	assert.Equal(t, []string{"rules", "sets"}, order)
	assert.Equal(t, []domain.EventType{domain.EventClose}, recorded)
}

func TestCloseRuleSets_AlreadyClosedIsNoOp(t *testing.T) {
	f := newFixture()
	closedAt := time.Now().UTC()
	f.ruleSets.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*domain.RecodeRuleSet, error) {
		return &domain.RecodeRuleSet{ID: id, State: domain.RuleStateClosed, ClosedAt: &closedAt}, nil
	}

	var closes int
	f.ruleSets.CloseFunc = func(context.Context, []uuid.UUID, time.Time) error {
		closes++
		return nil
	}

	require.NoError(t, f.svc.CloseRuleSets(context.Background(), []uuid.UUID{uuid.New()}))
	assert.Zero(t, closes)
}
