package shared

import "fmt"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrForbidden           = NewDomainError("FORBIDDEN", "Access to this resource is forbidden")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// InvariantViolationError marks a should-never-happen condition, such as a
// posting carrying both a debit and a credit amount. It is raised via panic
// and must not be used for expected business failures.
type InvariantViolationError struct {
	Message string
}

// Error implements the error interface
func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Message
}

// Invariant panics with an InvariantViolationError when cond is false.
func Invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(&InvariantViolationError{Message: fmt.Sprintf(format, args...)})
	}
}
