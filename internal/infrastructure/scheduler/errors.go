package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when submitting to a stopped runner
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobAlreadyRunning is returned when a job with the same name is active
	ErrJobAlreadyRunning = errors.New("job already running")
)
