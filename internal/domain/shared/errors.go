// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrExpired         = errors.New("expired")

	// Pipeline error taxonomy. These drive the propagation policy:
	// configuration errors are fatal for the affected job, source failures are
	// recovered locally via defaults, transient I/O is retried with backoff,
	// validation errors fail the write, and sandbox violations skip the indicator.
	ErrConfiguration     = errors.New("configuration error")
	ErrSourceUnavailable = errors.New("data source unavailable")
	ErrTransient         = errors.New("transient I/O error")
	ErrSandboxViolation  = errors.New("sandbox violation")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "risk", "alert", "intervention"
	Op      string // Operation that failed, e.g., "Analyze", "Evaluate"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Risk domain errors
var (
	ErrProfileNotFound    = NewDomainError("risk", "Find", ErrNotFound, "risk profile not found")
	ErrProfileExists      = NewDomainError("risk", "Create", ErrAlreadyExists, "risk profile already exists for student and year")
	ErrScoreOutOfRange    = NewDomainError("risk", "Validate", ErrValidation, "risk score outside [0,100]")
	ErrUnknownIndicator   = NewDomainError("risk", "Evaluate", ErrConfiguration, "unknown indicator type")
	ErrSchemaMismatch     = NewDomainError("risk", "Load", ErrConfiguration, "feature schema version mismatch")
	ErrInvalidRiskLevel   = NewDomainError("risk", "Validate", ErrInvalidInput, "invalid risk level")
	ErrAnalysisInProgress = NewDomainError("risk", "Analyze", ErrConcurrentModification, "analysis already in progress for profile")
)

// Alert domain errors
var (
	ErrAlertNotFound       = NewDomainError("alert", "Find", ErrNotFound, "alert not found")
	ErrConfigNotFound      = NewDomainError("alert", "FindConfig", ErrNotFound, "alert configuration not found")
	ErrMalformedTemplate   = NewDomainError("alert", "Render", ErrConfiguration, "malformed alert message template")
	ErrAlreadyAcknowledged = NewDomainError("alert", "Acknowledge", ErrInvalidState, "alert already acknowledged")
	ErrAlertInCooldown     = NewDomainError("alert", "Emit", ErrInvalidState, "alert configuration in cooldown window")
)

// Intervention domain errors
var (
	ErrPlanNotFound     = NewDomainError("intervention", "Find", ErrNotFound, "intervention plan not found")
	ErrInsufficientData = NewDomainError("intervention", "Evaluate", ErrInvalidState, "post-intervention window too short")
	ErrPlanNotActive    = NewDomainError("intervention", "Evaluate", ErrInvalidState, "plan is not active or completed")
)

// Model errors
var (
	ErrArtifactMissing  = NewDomainError("model", "Load", ErrConfiguration, "model artifact not found")
	ErrArtifactCorrupt  = NewDomainError("model", "Load", ErrConfiguration, "model artifact unreadable")
	ErrTrainingFailed   = NewDomainError("model", "Train", ErrInvalidState, "model training failed")
	ErrNotEnoughSamples = NewDomainError("model", "Train", ErrInvalidInput, "not enough labeled samples")
)
