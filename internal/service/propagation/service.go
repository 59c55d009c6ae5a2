// Package propagation reacts to structural changes in the hierarchy and
// keeps the rule graph consistent: closing a meta field closes every rule
// set that depends on it, closing or rewriting a field value closes the
// individual rules keyed to it, and renaming a meta field re-announces
// the dependent rule sets to downstream consumers.
package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
	"github.com/avdeenkov/recodehub/internal/service/rules"
)

// ruleEngine is the slice of the rule service the engine drives.
type ruleEngine interface {
	ModifyByDependencies(ctx context.Context, kind domain.EntityType, ids []uuid.UUID) (rules.AffectedRules, error)
	CloseRuleSets(ctx context.Context, ids []uuid.UUID) error
	Modify(ctx context.Context, batch domain.RuleModifyBatch, needValidation bool) error
}

type subscriber interface {
	Subscribe(topic eventbus.Topic, h eventbus.Handler)
}

type publisher interface {
	Publish(ctx context.Context, ev eventbus.Event) error
}

// Engine consumes structural-change events and closes dependent rules.
// Delivery is at-least-once, so the engine keeps a per-process dedup set
// keyed by event id; the underlying close operations are idempotent on top
// of that, so a redelivery after a restart is still harmless.
type Engine struct {
	log   *slog.Logger
	rules ruleEngine
	bus   publisher

	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

// NewEngine creates the propagation engine.
func NewEngine(logger *slog.Logger, ruleSvc ruleEngine, bus publisher) *Engine {
	return &Engine{
		log:   logger,
		rules: ruleSvc,
		bus:   bus,
		seen:  make(map[uuid.UUID]struct{}),
	}
}

// Register subscribes the engine to the structural-change topic.
func (e *Engine) Register(bus subscriber) {
	bus.Subscribe(eventbus.TopicStructuralChange, e.HandleStructuralChange)
}

// HandleStructuralChange applies the propagation policy for one event.
//
//   - meta field closed: every rule set referencing it closes, rules
//     cascading with their sets
//   - meta field renamed or reflagged: the sets stay open, but every
//     dependent set is re-announced so downstream consumers (the search
//     index above all) refresh their derived view of it
//   - field closed or its value rewritten: the rules keyed to that field
//     close, their sets stay open
//   - dictionary and group closes arrive here too, but the hierarchy
//     service already cascades them into per-meta-field close events, so
//     they need no extra work
func (e *Engine) HandleStructuralChange(ctx context.Context, ev eventbus.Event) error {
	change := ev.StructuralChange
	if change == nil {
		return nil
	}
	if e.alreadySeen(ev.ID) {
		e.log.Debug("structural change already processed", slog.String("event_id", ev.ID.String()))
		return nil
	}

	var err error
	switch {
	case change.TargetType == domain.EntityMetaField && change.EventType == domain.EventClose:
		err = e.closeDependentSets(ctx, change.TargetID)
	case change.TargetType == domain.EntityMetaField && change.EventType == domain.EventUpdate:
		err = e.reannounceDependentSets(ctx, change.TargetID, change.EventDate)
	case change.TargetType == domain.EntityField &&
		(change.EventType == domain.EventClose || change.EventType == domain.EventUpdate):
		err = e.closeDependentRules(ctx, change.TargetID)
	}
	if err != nil {
		return err
	}

	e.markSeen(ev.ID)
	return nil
}

func (e *Engine) closeDependentSets(ctx context.Context, metaFieldID uuid.UUID) error {
	affected, err := e.rules.ModifyByDependencies(ctx, domain.EntityMetaField, []uuid.UUID{metaFieldID})
	if err != nil {
		return fmt.Errorf("resolve dependent rule sets: %w", err)
	}
	if affected.IsEmpty() {
		return nil
	}

	ids := make([]uuid.UUID, len(affected.RuleSets))
	for i := range affected.RuleSets {
		ids[i] = affected.RuleSets[i].ID
	}
	if err := e.rules.CloseRuleSets(ctx, ids); err != nil {
		return fmt.Errorf("close dependent rule sets: %w", err)
	}

	e.log.Info("closed rule sets after meta field close",
		slog.String("meta_field_id", metaFieldID.String()),
		slog.Int("rule_sets", len(ids)),
	)
	return nil
}

// reannounceDependentSets publishes an update event for every rule set
// referencing the renamed meta field. The sets themselves do not change,
// but consumers deriving state from the set (index documents carry the
// name) re-evaluate on it. The new events target rule sets, which this
// handler ignores, so the cycle terminates.
func (e *Engine) reannounceDependentSets(ctx context.Context, metaFieldID uuid.UUID, eventDate time.Time) error {
	affected, err := e.rules.ModifyByDependencies(ctx, domain.EntityMetaField, []uuid.UUID{metaFieldID})
	if err != nil {
		return fmt.Errorf("resolve dependent rule sets: %w", err)
	}
	if affected.IsEmpty() {
		return nil
	}

	for i := range affected.RuleSets {
		set := &affected.RuleSets[i]
		err := e.bus.Publish(ctx, eventbus.NewStructuralChange(eventbus.StructuralChange{
			TargetID:   set.ID,
			TargetType: domain.EntityRuleSet,
			EventType:  domain.EventUpdate,
			EventDate:  eventDate,
		}))
		if err != nil {
			return fmt.Errorf("reannounce rule set %s: %w", set.ID, err)
		}
	}

	e.log.Info("reannounced rule sets after meta field update",
		slog.String("meta_field_id", metaFieldID.String()),
		slog.Int("rule_sets", len(affected.RuleSets)),
	)
	return nil
}

func (e *Engine) closeDependentRules(ctx context.Context, fieldID uuid.UUID) error {
	affected, err := e.rules.ModifyByDependencies(ctx, domain.EntityField, []uuid.UUID{fieldID})
	if err != nil {
		return fmt.Errorf("resolve dependent rules: %w", err)
	}
	if affected.IsEmpty() {
		return nil
	}

	batch := domain.RuleModifyBatch{ToClose: make([]uuid.UUID, len(affected.Rules))}
	for i := range affected.Rules {
		batch.ToClose[i] = affected.Rules[i].ID
	}
	// Validation is skipped: the rules are being closed, not created.
	if err := e.rules.Modify(ctx, batch, false); err != nil {
		return fmt.Errorf("close dependent rules: %w", err)
	}

	e.log.Info("closed rules after field change",
		slog.String("field_id", fieldID.String()),
		slog.Int("rules", len(batch.ToClose)),
	)
	return nil
}

func (e *Engine) alreadySeen(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.seen[id]
	return ok
}

func (e *Engine) markSeen(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen[id] = struct{}{}
}
