// Package natsbus forwards engine events to NATS as JSON messages, one
// subject per topic. It implements the bus Publisher contract, so wiring
// it through Forward mirrors every locally dispatched event to the
// outside world.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
)

// DefaultSubjectPrefix namespaces the engine's subjects.
const DefaultSubjectPrefix = "recodehub"

// conn is the slice of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher mirrors bus events onto NATS subjects.
type Publisher struct {
	log    *slog.Logger
	nc     conn
	prefix string
}

// New creates a publisher over an established NATS connection. An empty
// prefix falls back to DefaultSubjectPrefix.
func New(logger *slog.Logger, nc *nats.Conn, prefix string) *Publisher {
	return newPublisher(logger, nc, prefix)
}

func newPublisher(logger *slog.Logger, nc conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{log: logger, nc: nc, prefix: prefix}
}

// Subject returns the NATS subject for a topic, e.g.
// "recodehub.structural.change".
func (p *Publisher) Subject(topic eventbus.Topic) string {
	return p.prefix + "." + string(topic)
}

// Publish serializes the event and sends it to the topic's subject.
func (p *Publisher) Publish(ctx context.Context, ev eventbus.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(toWire(ev))
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	subject := p.Subject(ev.Topic)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	p.log.Debug("event forwarded",
		slog.String("subject", subject),
		slog.String("event_id", ev.ID.String()))
	return nil
}

// The wire shapes are decoupled from the in-process event structs so the
// JSON contract survives internal refactors. Paths travel as their
// rendered form.
type wireEvent struct {
	ID         uuid.UUID `json:"id"`
	Topic      string    `json:"topic"`
	OccurredAt time.Time `json:"occurred_at"`

	StructuralChange *wireStructuralChange `json:"structural_change,omitempty"`
	RecodeOutcome    *wireRecodeOutcome    `json:"recode_outcome,omitempty"`
	TaskLifecycle    *wireTaskLifecycle    `json:"task_lifecycle,omitempty"`
	TaskProgress     *wireTaskProgress     `json:"task_progress,omitempty"`
	IndexRebuild     *wireIndexRebuild     `json:"index_rebuild,omitempty"`
}

type wireStructuralChange struct {
	TargetID   uuid.UUID  `json:"target_id"`
	TargetType string     `json:"target_type"`
	EventType  string     `json:"event_type"`
	EventDate  time.Time  `json:"event_date"`
	Path       string     `json:"path,omitempty"`
	Diffs      []wireDiff `json:"diffs,omitempty"`
}

type wireDiff struct {
	FieldClass string `json:"field_class"`
	FieldName  string `json:"field_name"`
	OldValue   string `json:"old_value"`
	NewValue   string `json:"new_value"`
}

type wireRecodeOutcome struct {
	RuleSetName string    `json:"rule_set_name"`
	FromPath    string    `json:"from_path"`
	ToPath      string    `json:"to_path"`
	Type        string    `json:"type"`
	Cause       string    `json:"cause,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type wireTaskLifecycle struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Performer   string    `json:"performer"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

type wireTaskProgress struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Performer   string    `json:"performer"`
	Progress    float64   `json:"progress"`
}

type wireIndexRebuild struct {
	TargetType   string `json:"target_type,omitempty"`
	Acknowledged bool   `json:"acknowledged"`
}

func toWire(ev eventbus.Event) wireEvent {
	w := wireEvent{
		ID:         ev.ID,
		Topic:      string(ev.Topic),
		OccurredAt: ev.OccurredAt,
	}

	if c := ev.StructuralChange; c != nil {
		w.StructuralChange = &wireStructuralChange{
			TargetID:   c.TargetID,
			TargetType: string(c.TargetType),
			EventType:  string(c.EventType),
			EventDate:  c.EventDate,
			Path:       pathString(c.Path),
			Diffs:      toWireDiffs(c.Diffs),
		}
	}
	if o := ev.RecodeOutcome; o != nil {
		w.RecodeOutcome = &wireRecodeOutcome{
			RuleSetName: o.RuleSetName,
			FromPath:    pathString(o.FromPath),
			ToPath:      pathString(o.ToPath),
			Type:        string(o.Type),
			Cause:       o.Cause,
			OccurredAt:  o.OccurredAt,
		}
	}
	if lc := ev.TaskLifecycle; lc != nil {
		w.TaskLifecycle = &wireTaskLifecycle{
			ExecutionID: lc.ExecutionID,
			Performer:   lc.Performer,
			Status:      string(lc.Status),
			Error:       lc.Error,
		}
	}
	if pr := ev.TaskProgress; pr != nil {
		w.TaskProgress = &wireTaskProgress{
			ExecutionID: pr.ExecutionID,
			Performer:   pr.Performer,
			Progress:    pr.Progress,
		}
	}
	if r := ev.IndexRebuild; r != nil {
		w.IndexRebuild = &wireIndexRebuild{
			TargetType:   string(r.TargetType),
			Acknowledged: r.Acknowledged,
		}
	}
	return w
}

func pathString(p domain.NamedPath) string {
	if p.IsZero() {
		return ""
	}
	return p.String()
}

func toWireDiffs(diffs []domain.Diff) []wireDiff {
	if len(diffs) == 0 {
		return nil
	}
	out := make([]wireDiff, len(diffs))
	for i, d := range diffs {
		out[i] = wireDiff{
			FieldClass: d.FieldClass,
			FieldName:  d.FieldName,
			OldValue:   d.OldValue,
			NewValue:   d.NewValue,
		}
	}
	return out
}
