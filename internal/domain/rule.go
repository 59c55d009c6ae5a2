package domain

import (
	"time"

	"github.com/google/uuid"
)

// RuleState is the lifecycle state of a rule set or rule.
// The only transition is ACTIVE → CLOSED; closed entries are never
// resurrected.
type RuleState string

const (
	RuleStateActive RuleState = "ACTIVE"
	RuleStateClosed RuleState = "CLOSED"
)

func (s RuleState) String() string { return string(s) }

func (s RuleState) IsValid() bool {
	return s == RuleStateActive || s == RuleStateClosed
}

// RecodeRuleSet declares that values of one meta field may be recoded into
// another meta field. At most one active set exists per ordered
// (from, to) pair.
type RecodeRuleSet struct {
	ID              uuid.UUID
	Name            string
	FromMetaFieldID uuid.UUID
	ToMetaFieldID   uuid.UUID
	// DefaultFieldID is the target applied when no rule matches a source
	// value. Nil means the set has no default and unmapped values fail.
	DefaultFieldID *uuid.UUID
	State          RuleState
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time

	Rules []RecodeRule
}

// IsActive reports whether the rule set is still open for resolution.
func (s *RecodeRuleSet) IsActive() bool { return s.State == RuleStateActive }

// RecodeRule is a concrete value mapping within a rule set. The from field
// must belong to the set's from meta field, the to field to the set's to
// meta field.
type RecodeRule struct {
	ID          uuid.UUID
	RuleSetID   uuid.UUID
	FromFieldID uuid.UUID
	ToFieldID   uuid.UUID
	State       RuleState
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// IsActive reports whether the rule is still open for resolution.
func (r *RecodeRule) IsActive() bool { return r.State == RuleStateActive }

// RuleSetView is the result of resolving a (from, to) meta field pair. For
// a direct hit it mirrors the stored set; for a transitive hit it is the
// composed, effective view across the chain and Chain lists the traversed
// set ids in order.
type RuleSetView struct {
	RuleSet RecodeRuleSet
	// Transitive is true when the view was composed across intermediate
	// sets rather than read from a single stored set.
	Transitive bool
	Chain      []uuid.UUID
}

// RuleModifyBatch is the all-or-nothing unit accepted by Modify.
type RuleModifyBatch struct {
	ToCreate []RecodeRule
	ToUpdate []RecodeRule
	ToClose  []uuid.UUID
}

// IsEmpty reports whether the batch carries no work.
func (b RuleModifyBatch) IsEmpty() bool {
	return len(b.ToCreate) == 0 && len(b.ToUpdate) == 0 && len(b.ToClose) == 0
}

// UnmatchedDictionary describes why a dictionary cannot be fully recoded:
// either it has no outbound rule set at all, or at least one outbound set
// lacks a default while some primary values have no rule.
type UnmatchedDictionary struct {
	DictionaryID   uuid.UUID
	Path           NamedPath
	MissingRuleSet bool
	// UnmappedValues lists primary-field values with no applicable rule,
	// grouped by the rule set that failed to cover them.
	UnmappedValues map[uuid.UUID][]string
}
