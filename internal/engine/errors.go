package engine

import (
	"errors"
	"fmt"

	"barkbase/backend/internal/repository"
)

// NotFoundError reports that an execution, definition or step spec is
// missing. Callers log and skip the item; it never aborts the worker loop.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ActionError reports that a step's side-effecting action failed. The
// execution stays RUNNING and is retried on later polls until the attempt
// bound, at which point it is marked FAILED.
type ActionError struct {
	StepID string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("step %q action failed: %v", e.StepID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a missing-record condition, from either
// the engine or the storage layer.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) || errors.Is(err, repository.ErrNotFound)
}
