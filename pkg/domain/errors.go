package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPrecondition = errors.New("precondition failed")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

type PreconditionCode string

const (
	// CodeConflict: the entity is held by someone else (bound listing, lost version race).
	CodeConflict PreconditionCode = "CONFLICT"
	// CodeInvalidState: the entity is not in the source status the operation needs.
	CodeInvalidState PreconditionCode = "INVALID_STATE"
)

// PreconditionError reports that an operation's required source state does not hold.
// It is always surfaced to the caller, who must re-fetch and decide.
type PreconditionError struct {
	Entity  string
	ID      string
	Code    PreconditionCode
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
}

func (e *PreconditionError) Is(target error) bool {
	switch target {
	case ErrPrecondition:
		return true
	case ErrConflict:
		return e.Code == CodeConflict
	case ErrInvalidState:
		return e.Code == CodeInvalidState
	}
	return false
}

func Conflict(entity, id, format string, args ...any) error {
	return &PreconditionError{Entity: entity, ID: id, Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(entity, id, format string, args ...any) error {
	return &PreconditionError{Entity: entity, ID: id, Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
