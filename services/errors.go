package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a referenced course, CLO, assessment or student does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAssessmentFinalized indicates a mutation was attempted on a finalized assessment
	ErrAssessmentFinalized = errors.New("assessment marks have been finalized and can no longer be modified")

	// ErrAssessmentNotFinalized indicates analysis was requested for a draft assessment
	ErrAssessmentNotFinalized = errors.New("assessment marks have not been finalized yet")

	// ErrForbidden indicates the actor is not allowed to perform the operation
	ErrForbidden = errors.New("operation not permitted")
)

// FieldError is a single field- or rule-level validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level failures for one request. It is
// recoverable by the caller and never aborts unrelated operations.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Add appends a field error and returns the receiver for chaining
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
	return e
}

// HasErrors reports whether any field errors were recorded
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// NewValidationError builds a ValidationError with a single field error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// AsValidationError unwraps err into a *ValidationError if it is one
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
