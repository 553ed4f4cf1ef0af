package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced meeting, participant or proposal does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrStateConflict is returned when an operation is not valid for the meeting's current status.
	ErrStateConflict = errors.New("application: state conflict")
	// ErrLimitExceeded is returned when a participant has used up their proposals for a meeting.
	ErrLimitExceeded = errors.New("application: proposal limit exceeded")
	// ErrDelivery is returned when a message could not be pushed to its recipient.
	ErrDelivery = errors.New("application: delivery failed")
	// ErrAlreadyExists is returned when a uniquely keyed record is created twice.
	ErrAlreadyExists = errors.New("application: already exists")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StateConflictError reports an operation attempted against a record whose
// status does not allow it. Status holds the status observed at the time.
type StateConflictError struct {
	MeetingID string
	Status    string
	Operation string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s meeting %s in status %s", e.Operation, e.MeetingID, e.Status)
}

// Is matches ErrStateConflict.
func (e *StateConflictError) Is(target error) bool { return target == ErrStateConflict }

// LimitExceededError reports that the proposal limit was reached.
type LimitExceededError struct {
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("proposal limit of %d reached", e.Limit)
}

// Is matches ErrLimitExceeded.
func (e *LimitExceededError) Is(target error) bool { return target == ErrLimitExceeded }

// DeliveryError reports an undelivered notification or relayed message.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("delivery to %s failed", e.Recipient)
	}
	return fmt.Sprintf("delivery to %s failed: %v", e.Recipient, e.Err)
}

// Is matches ErrDelivery.
func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

func (e *DeliveryError) Unwrap() error { return e.Err }
