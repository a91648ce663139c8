package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPersistence is matched by every PersistenceError.
	ErrPersistence = errors.New("persisting loop state failed")

	// ErrTransport is matched by every TransportError.
	ErrTransport = errors.New("text generation failed")

	// ErrGatesFailed is matched by every GateFailure.
	ErrGatesFailed = errors.New("quality gates failed")
)

// PersistenceError is a failed write of loop state. It halts the run.
type PersistenceError struct {
	// What names the state that failed to write: manifest, knowledge or
	// trajectory.
	What string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", e.What, e.Err)
}

// Is allows errors.Is(err, ErrPersistence).
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TransportError is a generation call that failed or timed out. The attempt
// is recorded as failed.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

// Is allows errors.Is(err, ErrTransport).
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// GateFailure lists the gates that rejected an attempt.
type GateFailure struct {
	Gates []string
}

func (e *GateFailure) Error() string {
	return "gates failed: " + strings.Join(e.Gates, ", ")
}

// Is allows errors.Is(err, ErrGatesFailed).
func (e *GateFailure) Is(target error) bool {
	return target == ErrGatesFailed
}
