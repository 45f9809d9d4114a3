package domain

import "errors"

var (
	// ErrNotFound is returned when no task carries the requested id.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyComplete is returned when completing a task that is already complete.
	ErrAlreadyComplete = errors.New("already complete")
)
