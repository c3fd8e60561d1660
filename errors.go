package fairqueue

import "errors"

var (
	// Validation errors.
	ErrInvalidItem   = errors.New("fairqueue: invalid item")
	ErrInvalidPolicy = errors.New("fairqueue: invalid policy")

	// Lifecycle errors.
	ErrSchedulerStopped = errors.New("fairqueue: scheduler stopped")

	// Processing errors.
	ErrMaxRetriesExceeded = errors.New("fairqueue: max retries exceeded")

	// Dead-letter errors.
	ErrDeadLetterNotFound = errors.New("fairqueue: dead-letter entry not found")
)
