package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the concrete kind of an audited entity.
type EntityType string

const (
	EntityGroup         EntityType = "GROUP"
	EntityDictionary    EntityType = "DICTIONARY"
	EntityMetaField     EntityType = "META_FIELD"
	EntityField         EntityType = "FIELD"
	EntityRecord        EntityType = "RECORD"
	EntityRuleSet       EntityType = "RECODE_RULE_SET"
	EntityRule          EntityType = "RECODE_RULE"
	EntityNotification  EntityType = "NOTIFICATION"
	EntityTaskExecution EntityType = "TASK_EXECUTION"
)

func (t EntityType) String() string { return string(t) }

func (t EntityType) IsValid() bool {
	switch t {
	case EntityGroup, EntityDictionary, EntityMetaField, EntityField, EntityRecord,
		EntityRuleSet, EntityRule, EntityNotification, EntityTaskExecution:
		return true
	}
	return false
}

// EventType classifies a change event on an entity.
type EventType string

const (
	EventCreate  EventType = "CREATE"
	EventUpdate  EventType = "UPDATE"
	EventRestore EventType = "RESTORE"
	EventClose   EventType = "CLOSE"
	// EventSkip records that a change was seen but deliberately not
	// applied (no-op detected via hash equality).
	EventSkip EventType = "SKIP"
	// EventIgnore records that a change was seen and ruled irrelevant for
	// the target (e.g. a redelivered event already handled).
	EventIgnore EventType = "IGNORE"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventCreate, EventUpdate, EventRestore, EventClose, EventSkip, EventIgnore:
		return true
	}
	return false
}

// Diff is one attribute-level difference between two revisions of an
// entity. Values are rendered as strings for display and storage.
type Diff struct {
	FieldClass string
	FieldName  string
	OldValue   string
	NewValue   string
}

// History is an append-only record of one change event for any entity,
// unique per (TargetID, EventType, EventDate).
type History struct {
	ID          uuid.UUID
	TargetID    uuid.UUID
	TargetType  EntityType
	EventType   EventType
	EventDate   time.Time
	EventAuthor string
	Diffs       []Diff
}
