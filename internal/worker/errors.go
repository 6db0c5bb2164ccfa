package worker

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for conditions carrying no extra data.
var (
	// ErrSpawnDisabled is returned when the policy forbids spawning.
	ErrSpawnDisabled = errors.New("spawning is disabled by policy")

	// ErrInsufficientResources is returned when the admission check fails.
	ErrInsufficientResources = errors.New("insufficient resources to spawn worker")

	// ErrNoResult is returned when a terminated worker carries no result.
	ErrNoResult = errors.New("no result available")
)

// TemplateNotAllowedError is returned when a template fails the policy check.
type TemplateNotAllowedError struct {
	Template string
}

func (e *TemplateNotAllowedError) Error() string {
	return fmt.Sprintf("template not allowed: %s", e.Template)
}

// LimitReachedError is returned when the active worker count is at the cap.
type LimitReachedError struct {
	Limit int
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("worker limit reached: %d", e.Limit)
}

// ProcessError wraps a failure to launch or observe a child process.
type ProcessError struct {
	Err error
}

func (e *ProcessError) Error() string { return fmt.Sprintf("process error: %v", e.Err) }
func (e *ProcessError) Unwrap() error { return e.Err }

// ResourceError wraps a failure of the resource prober itself.
type ResourceError struct {
	Err error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("resource error: %v", e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid spawner configuration.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// UnsupportedDeploymentError is returned for deployment strategies that
// are deliberately not implemented.
type UnsupportedDeploymentError struct {
	Deployment string
	Reason     string
}

func (e *UnsupportedDeploymentError) Error() string {
	return fmt.Sprintf("unsupported deployment %q: %s", e.Deployment, e.Reason)
}

// NotFoundError is returned when no worker with the given ID exists.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("worker not found: %s", e.ID) }

// FailedError is returned by wait when the worker ended in the Failed state.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string { return fmt.Sprintf("worker failed: %s", e.Reason) }

// TimeoutError is returned by wait when the worker did not reach a
// terminal state in time. The worker itself is left untouched.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wait timeout exceeded after %v", e.Timeout)
}
