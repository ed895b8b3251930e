package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates a uniqueness constraint was violated.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrInvalidReference indicates a referenced entity does not exist.
	ErrInvalidReference = errors.New("repository: invalid reference")
	// ErrNotAssigned indicates the user is not in the task's assignee set.
	ErrNotAssigned = errors.New("repository: user not assigned to task")
)
