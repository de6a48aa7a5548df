package trek

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is reported when two migrations in the same
	// resolved sequence share a name.
	ErrDuplicateName = errors.New("duplicate migration name")

	// ErrMissingAction is reported when a migration does not define the
	// action for the requested direction.
	ErrMissingAction = errors.New("migration action not defined")

	// ErrActionContract is reported when a wrapper returns no action.
	ErrActionContract = errors.New("wrapper returned no action")

	// ErrNotFound is reported when a targeted migration name is absent
	// from the resolved sequence.
	ErrNotFound = errors.New("migration not found")
)

// ResolutionError reports a malformed migration source. Path is set when
// the failure is tied to a single resolved file.
type ResolutionError struct {
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("resolving %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("resolving migrations: %v", e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ExecutionError reports a migration action that failed, identifying the
// unit and direction. Units recorded before the failing one stay
// committed and are skipped on a retry.
type ExecutionError struct {
	Name      string
	Direction Direction
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("migration %s (%s) failed: %v", e.Name, e.Direction, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StorageError reports a failed Execution Record operation. It is fatal
// for the current run: the engine does not retry and does not execute
// further migrations once the durable record disagrees with memory.
type StorageError struct {
	Op   string // "log", "unlog" or "executed"
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
