package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrAlreadyPaired is returned when a participant already belongs to a meeting of the session.
	ErrAlreadyPaired = errors.New("persistence: participant already paired in session")
	// ErrConflict is returned when a conditional update finds the row in an unexpected state.
	ErrConflict = errors.New("persistence: state conflict")
	// ErrLimitReached is returned when a bounded insert would exceed its limit.
	ErrLimitReached = errors.New("persistence: limit reached")
	// ErrConstraintViolation is returned when a record is missing required fields.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
)
