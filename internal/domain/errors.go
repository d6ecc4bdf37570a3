package domain

import (
	"fmt"
	"strings"
	"time"
)

// Error types for consistent error handling across the service.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call
// (Access Store, object storage, email, payment).
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates a missing, unknown or revoked access key.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates a valid customer without the entitlement.
type ErrForbidden struct {
	Action    string
	Dashboard Dashboard
	Upsell    Product
}

func (e *ErrForbidden) Error() string {
	if e.Dashboard != "" {
		return fmt.Sprintf("forbidden: %s requires the %s plan", e.Dashboard.Title(), e.Upsell)
	}
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrDataFormat indicates an uploaded file that cannot be analyzed.
type ErrDataFormat struct {
	File    string
	Missing []string
	Reason  string
}

func (e *ErrDataFormat) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing required columns: %s", e.fileName(), strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: %s", e.fileName(), e.Reason)
}

func (e *ErrDataFormat) fileName() string {
	if e.File == "" {
		return "file"
	}
	return e.File
}

// ErrLimitExceeded indicates the weekly analysis quota is used up.
type ErrLimitExceeded struct {
	Limit    int
	Used     int
	ResetsAt time.Time
}

func (e *ErrLimitExceeded) Error() string {
	days := int(time.Until(e.ResetsAt).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	return fmt.Sprintf("weekly analysis limit reached (%d/%d), resets in %d day(s)", e.Used, e.Limit, days)
}

// ErrConflict indicates a resource already exists (e.g. duplicate email).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}
