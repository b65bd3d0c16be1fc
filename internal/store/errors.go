package store

import "errors"

var (
	ErrNotFound = errors.New("store: resource not found")
	// ErrInvalidTransition is returned when a task or generation is not in a state that allows the update.
	ErrInvalidTransition = errors.New("store: invalid state transition")
)
