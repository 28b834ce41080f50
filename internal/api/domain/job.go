package domain

import (
	"errors"
)

const (
	JobStatusQueued    = "QUEUED"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCancelled = "CANCELLED"
)

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotCancellable is returned when a cancellation request hits a
	// job that is missing or already in a terminal state.
	ErrJobNotCancellable = errors.New("job not found or already finished")
)
