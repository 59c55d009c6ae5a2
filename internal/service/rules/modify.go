package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

// CreateRuleSetInput carries a new rule set addressed by paths.
type CreateRuleSetInput struct {
	Name     string
	FromPath domain.NamedPath
	ToPath   domain.NamedPath
	// DefaultPath optionally addresses the fallback target field.
	DefaultPath *domain.NamedPath
}

// CreateRuleSet declares a new mapping between two meta fields. At most
// one active set may exist per ordered (from, to) pair; self-mapping is
// rejected before anything is resolved or written.
func (s *Service) CreateRuleSet(ctx context.Context, in CreateRuleSetInput) (*domain.RecodeRuleSet, error) {
	if in.Name == "" {
		return nil, domain.NewError(domain.KindIllegalName, "rule set name must not be empty")
	}
	if in.FromPath.Equal(in.ToPath) {
		return nil, domain.NewPathError(domain.KindSelfMapping, in.FromPath, "rule set source and target are identical")
	}

	from, err := s.catalog.ResolveMetaField(ctx, in.FromPath, false)
	if err != nil {
		return nil, err
	}
	to, err := s.catalog.ResolveMetaField(ctx, in.ToPath, false)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return nil, domain.NewPathError(domain.KindSelfMapping, in.FromPath, "rule set source and target are identical")
	}

	existing, err := s.ruleSets.GetActiveByPair(ctx, from.ID, to.ID)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("check rule set pair: %w", err)
	}
	if existing != nil {
		return nil, domain.NewPathError(domain.KindIllegalRule, in.FromPath,
			"an active rule set for this pair already exists")
	}

	var defaultFieldID *uuid.UUID
	if in.DefaultPath != nil {
		target, err := s.catalog.ResolveField(ctx, *in.DefaultPath, false)
		if err != nil {
			return nil, err
		}
		if target.MetaFieldID != to.ID {
			return nil, domain.NewPathError(domain.KindIllegalRule, *in.DefaultPath,
				"default target must belong to the target meta field")
		}
		defaultFieldID = &target.ID
	}

	set, err := s.ruleSets.Create(ctx, &domain.RecodeRuleSet{
		ID:              uuid.New(),
		Name:            in.Name,
		FromMetaFieldID: from.ID,
		ToMetaFieldID:   to.ID,
		DefaultFieldID:  defaultFieldID,
		State:           domain.RuleStateActive,
	})
	if err != nil {
		return nil, fmt.Errorf("create rule set: %w", err)
	}

	if _, err := s.history.Record(ctx, set.ID, domain.EntityRuleSet, domain.EventCreate, time.Now().UTC(), nil); err != nil {
		return nil, err
	}
	return set, nil
}

// CloseRuleSets closes the sets and all their active rules. Closing an
// already closed set is a no-op, which keeps cascades idempotent.
func (s *Service) CloseRuleSets(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()

	var open []uuid.UUID
	for _, id := range ids {
		set, err := s.ruleSets.GetByID(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return fmt.Errorf("load rule set: %w", err)
		}
		if set.IsActive() {
			open = append(open, set.ID)
		}
	}
	if len(open) == 0 {
		return nil
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// Rules first: no rule may remain active under a closed set.
		rules, err := s.rules.ListActiveByRuleSets(ctx, open)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		ruleIDs := make([]uuid.UUID, len(rules))
		for i := range rules {
			ruleIDs[i] = rules[i].ID
		}
		if len(ruleIDs) > 0 {
			if err := s.rules.Close(ctx, ruleIDs, now); err != nil {
				return fmt.Errorf("close rules: %w", err)
			}
		}
		if err := s.ruleSets.Close(ctx, open, now); err != nil {
			return fmt.Errorf("close rule sets: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range open {
		if _, err := s.history.Record(ctx, id, domain.EntityRuleSet, domain.EventClose, now, nil); err != nil {
			return err
		}
	}
	s.log.Info("rule sets closed", slog.Int("count", len(open)))
	return nil
}

// Modify applies a batch of rule creates, updates, and closes as a single
// transactional unit. With needValidation, every rule is checked against
// self-mapping, missing-meta-field, and incomplete-primary-key constraints
// before any write; one failure aborts the whole batch.
func (s *Service) Modify(ctx context.Context, batch domain.RuleModifyBatch, needValidation bool) error {
	if batch.IsEmpty() {
		return nil
	}

	if needValidation {
		for i := range batch.ToCreate {
			if err := s.validateRule(ctx, &batch.ToCreate[i]); err != nil {
				return err
			}
		}
		for i := range batch.ToUpdate {
			if err := s.validateRule(ctx, &batch.ToUpdate[i]); err != nil {
				return err
			}
		}
	}

	now := time.Now().UTC()
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for i := range batch.ToCreate {
			rule := batch.ToCreate[i]
			if rule.ID == uuid.Nil {
				rule.ID = uuid.New()
			}
			rule.State = domain.RuleStateActive
			if _, err := s.rules.Create(ctx, &rule); err != nil {
				return fmt.Errorf("create rule: %w", err)
			}
			if _, err := s.history.Record(ctx, rule.ID, domain.EntityRule, domain.EventCreate, now, nil); err != nil {
				return err
			}
		}
		for i := range batch.ToUpdate {
			rule := batch.ToUpdate[i]
			current, err := s.rules.GetByID(ctx, rule.ID)
			if err != nil {
				return fmt.Errorf("load rule: %w", err)
			}
			if !current.IsActive() {
				return domain.NewError(domain.KindIllegalRule, "a closed rule cannot be updated")
			}
			if _, err := s.rules.Update(ctx, &rule); err != nil {
				return fmt.Errorf("update rule: %w", err)
			}
			if _, err := s.history.Record(ctx, rule.ID, domain.EntityRule, domain.EventUpdate, now, nil); err != nil {
				return err
			}
		}
		if len(batch.ToClose) > 0 {
			if err := s.rules.Close(ctx, batch.ToClose, now); err != nil {
				return fmt.Errorf("close rules: %w", err)
			}
			for _, id := range batch.ToClose {
				if _, err := s.history.Record(ctx, id, domain.EntityRule, domain.EventClose, now, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("rule batch applied",
		slog.Int("created", len(batch.ToCreate)),
		slog.Int("updated", len(batch.ToUpdate)),
		slog.Int("closed", len(batch.ToClose)),
	)
	return nil
}

// validateRule enforces the per-rule constraints: the owning set exists
// and is active, no self-mapping, both fields exist under the set's meta
// fields, and a primary-key source cell carries a value.
func (s *Service) validateRule(ctx context.Context, rule *domain.RecodeRule) error {
	if rule.FromFieldID == rule.ToFieldID {
		return domain.NewError(domain.KindSelfMapping, "rule source and target field are identical")
	}

	set, err := s.ruleSets.GetByID(ctx, rule.RuleSetID)
	if err != nil {
		if isNotFound(err) {
			return domain.NewError(domain.KindUnknownRuleSet, fmt.Sprintf("rule set %s does not exist", rule.RuleSetID))
		}
		return fmt.Errorf("load rule set: %w", err)
	}
	if !set.IsActive() {
		return domain.NewError(domain.KindIllegalRule, "rules cannot be added to a closed rule set")
	}

	if err := s.validateRuleField(ctx, rule.FromFieldID, set.FromMetaFieldID, "source"); err != nil {
		return err
	}
	return s.validateRuleField(ctx, rule.ToFieldID, set.ToMetaFieldID, "target")
}

func (s *Service) validateRuleField(ctx context.Context, fieldID, wantMetaFieldID uuid.UUID, side string) error {
	field, err := s.fields.GetByID(ctx, fieldID)
	if err != nil {
		if isNotFound(err) {
			return domain.NewError(domain.KindIllegalRule, fmt.Sprintf("%s field %s does not exist", side, fieldID))
		}
		return fmt.Errorf("load %s field: %w", side, err)
	}
	if field.IsClosed() {
		return domain.NewError(domain.KindIllegalRule, fmt.Sprintf("%s field %s is closed", side, fieldID))
	}
	if field.MetaFieldID != wantMetaFieldID {
		mf, err := s.metaFields.GetByID(ctx, wantMetaFieldID)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("load meta field: %w", err)
		}
		if mf == nil || mf.IsClosed() {
			return domain.NewError(domain.KindIllegalRule, fmt.Sprintf("%s meta field is missing", side))
		}
		return domain.NewPathError(domain.KindIllegalRule, mf.Path(),
			fmt.Sprintf("%s field belongs to a different meta field", side))
	}

	mf, err := s.metaFields.GetByID(ctx, field.MetaFieldID)
	if err != nil {
		return fmt.Errorf("load meta field: %w", err)
	}
	if mf.Flags.Has(domain.FlagPrimary) && field.Value == nil {
		return domain.NewPathError(domain.KindIncompleteData, mf.Path(),
			fmt.Sprintf("%s primary key value is missing", side))
	}
	return nil
}
