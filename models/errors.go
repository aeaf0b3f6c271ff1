package models

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error kinds reported to the orchestrator
const (
	KindResourceNotFound   = "resource_not_found"
	KindServiceUnavailable = "service_unavailable"
	KindTimeout            = "timeout"
	KindValidation         = "validation"
	KindCancelled          = "cancelled"
	KindInternal           = "internal"
)

// ResourceNotFoundError means a referenced cloud resource does not exist.
// The activity does not retry it.
type ResourceNotFoundError struct {
	Resource string
	Name     string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// ServiceUnavailableError wraps an unexpected failure. The orchestrator is
// expected to retry with its own policy.
type ServiceUnavailableError struct {
	Message string
	Err     error
}

func (e *ServiceUnavailableError) Error() string {
	if e.Err == nil {
		return "service unavailable: " + e.Message
	}
	return fmt.Sprintf("service unavailable: %s: %v", e.Message, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error {
	return e.Err
}

// TimeoutError means a bounded polling loop ran out of attempts
type TimeoutError struct {
	Operation string
	Attempts  int
	Elapsed   time.Duration
	LastErr   error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s did not succeed after %d attempts (%s)", e.Operation, e.Attempts, e.Elapsed)
	if e.LastErr != nil {
		msg += fmt.Sprintf(": last error: %v", e.LastErr)
	}
	return msg
}

// ActivityError carries the activity name and tenant of a failure. The
// wrapped error keeps its kind reachable through errors.As.
type ActivityError struct {
	Activity string
	TenantID string
	Err      error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("%s (tenant %s): %v", e.Activity, e.TenantID, e.Err)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

// NewServiceUnavailable wraps err unless it already carries a documented kind
func NewServiceUnavailable(message string, err error) error {
	if err == nil {
		return nil
	}
	switch ErrorKind(err) {
	case KindResourceNotFound, KindTimeout, KindValidation, KindCancelled:
		return err
	}
	return &ServiceUnavailableError{Message: message, Err: err}
}

// ErrorKind classifies an error for the orchestrator
func ErrorKind(err error) string {
	var (
		notFound    *ResourceNotFoundError
		timeout     *TimeoutError
		unavailable *ServiceUnavailableError
		invalid     ValidationErrors
		single      ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &notFound):
		return KindResourceNotFound
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &invalid), errors.As(err, &single):
		return KindValidation
	case errors.As(err, &unavailable):
		return KindServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
