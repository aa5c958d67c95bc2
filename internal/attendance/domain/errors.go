package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidSource      = errors.New("invalid_source")
	ErrInvalidGuestToken  = errors.New("invalid_guest_token")
	ErrNotFound           = errors.New("attendance_not_found")
	ErrRegistrationClosed = errors.New("registration_closed")
	ErrCapacityExceeded   = errors.New("capacity_exceeded")
	ErrConcurrentUpdate   = errors.New("attendance_concurrent_update")
)

// CapacityExceededError carries the counts observed when an admission was
// refused, so the caller can ask for an explicit bypass. It matches
// ErrCapacityExceeded.
type CapacityExceededError struct {
	Capacity int
	Current  int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d of %d attending", e.Current, e.Capacity)
}

func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrCapacityExceeded
}
