package domain

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when an update or delete targets a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrBoardNotFound is returned when a column or task references a missing board.
	ErrBoardNotFound = errors.New("board not found")
	// ErrColumnNotFound is returned when a task references a column outside its board.
	ErrColumnNotFound = errors.New("column not found")
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email is already taken")
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownEvent is returned when a frame names an event without a payload schema.
	ErrUnknownEvent = errors.New("unknown event")
)

// ValidationError lists field level problems in a request or payload.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(msgs ...string) error {
	return &ValidationError{Messages: msgs}
}
