// Package apperr defines the error taxonomy shared by every domain package.
//
// Domain packages declare their own prefixed sentinels (for example
// "workrequest: not found") that wrap one of the kinds below, so callers can
// branch on either the precise sentinel or the broad kind with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStateTransition marks a decision on a terminal or mis-ordered entity.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrUnauthorizedActor marks an actor that is not allowed to act at this point.
	ErrUnauthorizedActor = errors.New("unauthorized actor")
	// ErrAlreadyVoted marks a second vote from the same panel member.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrNotFound marks an unknown identifier.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a write that kept losing the optimistic version race.
	ErrConflict = errors.New("concurrent modification")
	// ErrPersistence marks a store that is unavailable or failed.
	ErrPersistence = errors.New("persistence failure")
)

// Kind returns a sentinel that reads as msg but matches kind under errors.Is.
func Kind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Invalidf builds an ErrValidation error with a formatted message.
func Invalidf(format string, args ...any) error {
	return &kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a store error so it matches ErrPersistence while keeping
// the driver error reachable through errors.As.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &persistenceError{op: op, err: err}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string { return e.op + ": " + e.err.Error() }

func (e *persistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *persistenceError) Unwrap() error { return e.err }
