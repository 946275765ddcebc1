package core

import (
	"errors"
	"fmt"
)

// Common errors used across the package
var (
	// Cron / scheduling errors
	ErrInvalidCron      = errors.New("invalid cron expression")
	ErrEmptySchedule    = errors.New("unable to add a job with an empty schedule")
	ErrJobNotFound      = errors.New("job not found")
	ErrMaxInstances     = errors.New("maximum concurrent instances reached")
	ErrOrphanScheduled  = errors.New("scheduled job has no backing row")
	ErrSchedulerTimeout = errors.New("scheduler stop timed out")
	ErrSchedulerStopped = errors.New("scheduler is not running")

	// Leadership errors
	ErrLockContended = errors.New("scheduler lock held by another process")
	ErrNotLeader     = errors.New("operation requires the scheduler leader")

	// Dispatch errors
	ErrTargetMisconfigured = errors.New("no valid target configured")
	ErrAuthMissing         = errors.New("GitHub token not configured")
	ErrRemoteError         = errors.New("remote endpoint returned an error")
	ErrExpired             = errors.New("job end date has passed")

	// Validation errors
	ErrUnsupportedFieldType = errors.New("unsupported field type")

	// Shutdown errors
	ErrShutdownInProgress = errors.New("shutdown already in progress")
	ErrShutdownTimeout    = errors.New("shutdown timed out")
)

// WrapJobError wraps a job-related error with context
func WrapJobError(op string, jobName string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s job %q: %w", op, jobName, err)
}

// RemoteStatusError carries the HTTP status and truncated body of a failed
// dispatch. It unwraps to ErrRemoteError so callers can classify it.
type RemoteStatusError struct {
	StatusCode int
	Body       string
}

func (e RemoteStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

func (e RemoteStatusError) Unwrap() error {
	return ErrRemoteError
}
