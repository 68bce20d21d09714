package workflow

import "github.com/pkg/errors"

// Validation errors produced while constructing or finalizing a Workflow
//. These are ValidationError-kind errors: they abort
// workflow registration and are surfaced to the caller, never retried.
var (
	// ErrTaskNotFound is returned when a dependency names a task ID that was
	// never registered in the workflow under construction.
	ErrTaskNotFound = errors.New("workflow: task not found")

	// ErrDuplicateTask is returned when two tasks in the same workflow
	// register the same local ID.
	ErrDuplicateTask = errors.New("workflow: duplicate task")

	// ErrCycleDetected is returned when the dependency graph contains a
	// cycle. The path is attached via CycleError.
	ErrCycleDetected = errors.New("workflow: cycle detected")
)

// CycleError carries the back-edge path discovered during finalization.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	s := "workflow: cycle detected: "
	for i, id := range e.Path {
		if i > 0 {
			s += " -> "
		}
		s += id
	}
	return s
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }
