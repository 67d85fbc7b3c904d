package engine

import "errors"

var (
	// ErrProfileNotFound reports a completion or deletion against a user with
	// no character profile. Nothing is mutated.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrTaskNotFound reports an operation against a task that does not exist
	// or belongs to another user. Nothing is mutated.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAlreadyCompleted marks a repeated completion of a finished task.
	// The operation is a no-op, not a failure.
	ErrAlreadyCompleted = errors.New("task already completed")
)
