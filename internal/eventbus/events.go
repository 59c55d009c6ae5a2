// Package eventbus defines the typed publish/subscribe surface the core
// engines use to exchange structural-change, recode-outcome, and task
// lifecycle events, plus an in-process implementation.
//
// Delivery is at-least-once: a redelivered event carries the same ID, and
// handlers are expected to be idempotent or keep their own dedup set.
package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// Topic routes events to subscribers.
type Topic string

const (
	TopicStructuralChange Topic = "structural.change"
	TopicRecodeOutcome    Topic = "recode.outcome"
	TopicTaskLifecycle    Topic = "task.lifecycle"
	TopicTaskProgress     Topic = "task.progress"
	TopicIndexRebuild     Topic = "index.rebuild"
)

// Event is the envelope shared by all topics. ID is unique per logical
// event and stable across redeliveries.
type Event struct {
	ID         uuid.UUID
	Topic      Topic
	OccurredAt time.Time

	StructuralChange *StructuralChange
	RecodeOutcome    *domain.RecodeOutcome
	TaskLifecycle    *TaskLifecycle
	TaskProgress     *TaskProgress
	IndexRebuild     *IndexRebuild
}

// StructuralChange notifies a create/update/restore/close on a hierarchy
// entity. Before carries the previous revision for updates, nil otherwise.
type StructuralChange struct {
	TargetID   uuid.UUID
	TargetType domain.EntityType
	EventType  domain.EventType
	EventDate  time.Time
	Path       domain.NamedPath
	Diffs      []domain.Diff
}

// TaskLifecycle notifies a task status transition.
type TaskLifecycle struct {
	ExecutionID uuid.UUID
	Performer   string
	Status      domain.TaskStatus
	// Error carries the failure text for ERROR transitions.
	Error string
}

// TaskProgress reports aggregate progress of a running task in [0, 1].
type TaskProgress struct {
	ExecutionID uuid.UUID
	Performer   string
	Progress    float64
}

// IndexRebuild requests or acknowledges a search-index rebuild.
type IndexRebuild struct {
	// TargetType limits the rebuild to one entity type; empty rebuilds all.
	TargetType domain.EntityType
	// Acknowledged is false for the request, true for the completion event.
	Acknowledged bool
}

// NewStructuralChange wraps a StructuralChange into an envelope with a
// fresh event id.
func NewStructuralChange(change StructuralChange) Event {
	return Event{
		ID:               uuid.New(),
		Topic:            TopicStructuralChange,
		OccurredAt:       time.Now().UTC(),
		StructuralChange: &change,
	}
}

// NewRecodeOutcome wraps a per-value recode outcome.
func NewRecodeOutcome(outcome domain.RecodeOutcome) Event {
	return Event{
		ID:            uuid.New(),
		Topic:         TopicRecodeOutcome,
		OccurredAt:    time.Now().UTC(),
		RecodeOutcome: &outcome,
	}
}

// NewTaskLifecycle wraps a task status transition.
func NewTaskLifecycle(lc TaskLifecycle) Event {
	return Event{
		ID:            uuid.New(),
		Topic:         TopicTaskLifecycle,
		OccurredAt:    time.Now().UTC(),
		TaskLifecycle: &lc,
	}
}

// NewTaskProgress wraps a progress report.
func NewTaskProgress(p TaskProgress) Event {
	return Event{
		ID:           uuid.New(),
		Topic:        TopicTaskProgress,
		OccurredAt:   time.Now().UTC(),
		TaskProgress: &p,
	}
}

// NewIndexRebuild wraps an index rebuild request or acknowledgment.
func NewIndexRebuild(r IndexRebuild) Event {
	return Event{
		ID:           uuid.New(),
		Topic:        TopicIndexRebuild,
		OccurredAt:   time.Now().UTC(),
		IndexRebuild: &r,
	}
}
