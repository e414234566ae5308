package scheduler

import "errors"

var (
	// ErrRegistryRequired is returned when no capability registry is provided.
	ErrRegistryRequired = errors.New("capability registry is required")

	// ErrDeadlineExceeded is recorded on nodes cut off by the plan deadline.
	ErrDeadlineExceeded = errors.New("plan deadline exceeded")

	// ErrPlanCanceled is recorded on nodes cut off by caller cancellation.
	ErrPlanCanceled = errors.New("plan canceled")
)
