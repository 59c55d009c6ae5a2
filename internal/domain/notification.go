package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies the aggregated recode outcome.
type NotificationType string

const (
	NotificationRecodeSuccess NotificationType = "RECODE_SUCCESS"
	// NotificationRecodeMissingRule covers failures where no rule matched
	// the source value and the set had no default.
	NotificationRecodeMissingRule NotificationType = "RECODE_MISSING_RULE"
	// NotificationRecodeError covers failures caused by broken structure
	// (closed fields, unresolvable paths).
	NotificationRecodeError NotificationType = "RECODE_ERROR"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationRecodeSuccess, NotificationRecodeMissingRule, NotificationRecodeError:
		return true
	}
	return false
}

// ProcessingState is the notification lifecycle. The only transition is
// PENDING → PROCESSED.
type ProcessingState string

const (
	ProcessingPending   ProcessingState = "PENDING"
	ProcessingProcessed ProcessingState = "PROCESSED"
)

func (s ProcessingState) String() string { return string(s) }

// NotificationKey is the aggregation identity: outcomes sharing a key
// within one time window increment a single notification.
type NotificationKey struct {
	Type           NotificationType
	RuleSetName    string
	FromGroup      string
	FromDictionary string
	ToGroup        string
	ToDictionary   string
}

// Notification is an aggregated recode outcome over a time window.
// Append-mostly: only Count and ProcessingState change after creation.
type Notification struct {
	ID              uuid.UUID
	Key             NotificationKey
	Count           int64
	WindowStart     time.Time
	WindowEnd       time.Time
	ProcessingState ProcessingState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RecodeOutcome is one per-value recode result before aggregation.
type RecodeOutcome struct {
	RuleSetName string
	FromPath    NamedPath
	ToPath      NamedPath
	Type        NotificationType
	// Cause carries the failure reason for non-success outcomes.
	Cause      string
	OccurredAt time.Time
}
