// Package apperr defines the error taxonomy shared by the realm index and its callers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotARealm     = errors.New("not within a realm")
	ErrLocked        = errors.New("realm is locked by another process")
	ErrIndexStale    = errors.New("index is stale")
	ErrIoFailure     = errors.New("filesystem failure")
	ErrUnresolved    = errors.New("unresolved")
	ErrAmbiguous     = errors.New("ambiguous")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// PhaseError is a filesystem failure annotated with the phase and path it occurred in.
type PhaseError struct {
	Phase string
	Path  string
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Path, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func (e *PhaseError) Is(target error) bool {
	return target == ErrIoFailure
}

// IO wraps err as a PhaseError unless it is nil.
func IO(phase, path string, err error) error {
	if err == nil {
		return nil
	}
	return &PhaseError{Phase: phase, Path: path, Err: err}
}

// NameError reports a name that did not resolve to exactly one node.
type NameError struct {
	Name       string
	Ambiguous  bool
	Candidates []string
}

func (e *NameError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("%q is ambiguous: %s", e.Name, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("%q does not match any node", e.Name)
}

func (e *NameError) Is(target error) bool {
	if e.Ambiguous {
		return target == ErrAmbiguous
	}
	return target == ErrUnresolved
}
