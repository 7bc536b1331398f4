package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError indicates an error that might be resolved by retrying.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a RetryableError with a formatted message prefix.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: fmt.Errorf(message+": %w", append(args, err)...)}
}

// FatalError indicates an error that retrying will not fix.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err as a FatalError with a formatted message prefix.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(message+": %w", append(args, err)...)}
}

// Sentinel errors. Wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrDatabase     = errors.New("database error")
	ErrNATS         = errors.New("nats communication error")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrDuplicate    = errors.New("duplicate resource")
	// ErrConflict is returned when an optimistic version check keeps failing.
	ErrConflict   = errors.New("resource conflict")
	ErrBadRequest = errors.New("bad request")
	ErrTimeout    = errors.New("operation timeout")

	// ErrInvalidTransition rejects a state change that is not an edge of the state graph.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidState rejects an operation on a row whose current state does not allow it.
	ErrInvalidState   = errors.New("invalid state for operation")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrProvider       = errors.New("provider request failed")
	ErrMalformedInput = errors.New("malformed input")
)

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// ProviderError carries the upstream HTTP status and error payload of a failed send.
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
	Details    string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: status %d: code %d: %s", ErrProvider.Error(), e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrProvider.Error(), e.StatusCode, e.Message)
}

// Is reports ErrProvider so callers can match any provider failure.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// Code is a stable, client-facing error code with its HTTP status.
type Code struct {
	Status int
	Name   string
}

// Classify maps an error chain to the stable code returned by the CRM API.
func Classify(err error) Code {
	switch {
	case err == nil:
		return Code{Status: 200, Name: ""}
	case errors.Is(err, ErrValidation):
		return Code{Status: 400, Name: "validation_error"}
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrMalformedInput):
		return Code{Status: 400, Name: "bad_request"}
	case errors.Is(err, ErrUnauthorized):
		return Code{Status: 401, Name: "unauthorized"}
	case errors.Is(err, ErrNotFound):
		return Code{Status: 404, Name: "not_found"}
	case errors.Is(err, ErrInvalidTransition):
		return Code{Status: 409, Name: "invalid_transition"}
	case errors.Is(err, ErrInvalidState):
		return Code{Status: 409, Name: "invalid_state"}
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicate):
		return Code{Status: 409, Name: "conflict"}
	case errors.Is(err, ErrUnknownChannel):
		return Code{Status: 422, Name: "unknown_channel"}
	case errors.Is(err, ErrProvider):
		return Code{Status: 502, Name: "provider_error"}
	case errors.Is(err, ErrTimeout):
		return Code{Status: 504, Name: "timeout"}
	default:
		return Code{Status: 500, Name: "internal_error"}
	}
}
