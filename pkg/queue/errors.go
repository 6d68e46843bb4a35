package queue

import "errors"

var (
	// ErrTaskNotFound is returned when a task hash is missing or malformed.
	ErrTaskNotFound = errors.New("queue: task not found")
	// ErrEmpty is returned by Pop when no task is available across the
	// requested labels. Callers treat it as "poll again later", not a
	// failure.
	ErrEmpty = errors.New("queue: empty")
)
