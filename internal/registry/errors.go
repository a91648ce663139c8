package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced work item id is absent.
	ErrNotFound = errors.New("work item not found")

	// ErrInvalidTransition indicates a status change that breaks the
	// pending -> in_progress -> {complete|blocked} ordering.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidID indicates an explicit item id is not path-safe.
	ErrInvalidID = errors.New("invalid item id: must be alphanumeric with hyphens/underscores/dots")
)

// NotFoundError reports the id that could not be resolved.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("work item %q not found", e.ID)
}

// Unwrap allows errors.Is(err, ErrNotFound).
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("work item %q: cannot move from %s to %s", e.ID, e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
