package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
)

// ErrorKind classifies a structured domain error. Constraint kinds unwrap to
// ErrValidation or ErrAlreadyExists, unknown-* kinds unwrap to ErrNotFound,
// so callers may match either the kind or the sentinel.
type ErrorKind string

const (
	KindIllegalName         ErrorKind = "ILLEGAL_NAME"
	KindIllegalPrimaryKey   ErrorKind = "ILLEGAL_PRIMARY_KEY"
	KindSelfMapping         ErrorKind = "SELF_MAPPING"
	KindIllegalRule         ErrorKind = "ILLEGAL_RULE"
	KindDuplicateName       ErrorKind = "DUPLICATE_NAME"
	KindNotUniqueFieldValue ErrorKind = "NOT_UNIQUE_FIELD_VALUE"
	KindIncompleteData      ErrorKind = "INCOMPLETE_DATA"
	KindUnknownDocument     ErrorKind = "UNKNOWN_DOCUMENT"
	KindUnknownRuleSet      ErrorKind = "UNKNOWN_RULE_SET"
	KindUnknownTask         ErrorKind = "UNKNOWN_TASK"
)

// Error is a structured domain error carrying the failed path and, for
// value-level constraint violations, the offending old/new values.
type Error struct {
	Kind     ErrorKind
	Path     NamedPath
	Detail   string
	OldValue string
	NewValue string
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if !e.Path.IsZero() {
		msg += ": " + e.Path.String()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap maps the kind onto the matching sentinel.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindUnknownDocument, KindUnknownRuleSet, KindUnknownTask:
		return ErrNotFound
	case KindDuplicateName, KindNotUniqueFieldValue:
		return ErrAlreadyExists
	default:
		return ErrValidation
	}
}

// NewError creates a structured domain error without a path.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// NewPathError creates a structured domain error for a specific path.
func NewPathError(kind ErrorKind, path NamedPath, detail string) *Error {
	return &Error{Kind: kind, Path: path, Detail: detail}
}

// IsKind reports whether err is a domain Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s — %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}
