package domain

import "errors"

var (
	// ErrNoQueuedJobs is returned by the claim query when no job is
	// eligible for dispatch.
	ErrNoQueuedJobs = errors.New("no queued jobs")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrSubmitNotClickable marks the click-retry bound being exhausted
	// while the upload button stayed present but non-interactable.
	ErrSubmitNotClickable = errors.New("upload button was never clickable")
)
