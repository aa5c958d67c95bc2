package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidOwner     = errors.New("invalid_owner")
	ErrValidation       = errors.New("validation_error")
	ErrNotFound         = errors.New("event_not_found")
	ErrEventCanceled    = errors.New("event_canceled")
	ErrAlreadyCanceled  = errors.New("event_already_canceled")
	ErrEditRestricted   = errors.New("event_edit_restricted")
	ErrHasParticipants  = errors.New("event_has_participants")
	ErrConcurrentUpdate = errors.New("event_concurrent_update")
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors reports malformed input. It matches ErrValidation.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

func (v *ValidationErrors) Add(field, code, message string) {
	v.Errors = append(v.Errors, FieldError{Field: field, Code: code, Message: message})
}

func (v *ValidationErrors) Empty() bool {
	return v == nil || len(v.Errors) == 0
}

func (v *ValidationErrors) Error() string {
	if v.Empty() {
		return "validation error"
	}
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, e.Field+": "+e.Code)
	}
	return "validation error: " + strings.Join(parts, ", ")
}

func (v *ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

type ViolationLevel string

const (
	// LevelStructural blocks regardless of the proposed value.
	LevelStructural ViolationLevel = "structural"
	// LevelConditional blocks relative to current data.
	LevelConditional ViolationLevel = "conditional"
	// LevelAdvisory never blocks.
	LevelAdvisory ViolationLevel = "advisory"
)

func (l ViolationLevel) Blocking() bool {
	return l == LevelStructural || l == LevelConditional
}

type Violation struct {
	Field   string         `json:"field"`
	Level   ViolationLevel `json:"level"`
	Message string         `json:"message"`
}

// RestrictionError carries the blocking violations of a rejected edit. It
// matches ErrEditRestricted.
type RestrictionError struct {
	Violations []Violation `json:"violations"`
}

func (e *RestrictionError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, string(v.Level)+" "+v.Field)
	}
	return "event edit restricted: " + strings.Join(parts, ", ")
}

func (e *RestrictionError) Is(target error) bool {
	return target == ErrEditRestricted
}
