package content

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the entity is absent or hidden from the requested visibility.
	ErrNotFound = errors.New("content: not found")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("content: invalid input")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError carries a dotted code naming the failed operation and reason.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ValidationError reports field-level problems with an entity.
type ValidationError struct {
	Fields map[string]string
	cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidInput, e.cause)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidInput, e.cause}
}
