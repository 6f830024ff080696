// Package util provides shared utilities for the gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ValidationError, UpstreamError). Each
//     type implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common sentinel errors.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidInput        = errors.New("invalid input")
	ErrMethodNotAllowed    = errors.New("method not allowed")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrNoHealthyInstance   = errors.New("no healthy instance")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// ValidationError represents a registration input validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidInput {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError. The message must name
// the offending field so callers can surface it verbatim.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError represents a duplicate registration.
type ConflictError struct {
	Resource string
	Key      string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already registered", e.Resource, e.Key)
}

// Is checks if the error matches the target.
func (e *ConflictError) Is(target error) bool {
	if target == ErrConflict {
		return true
	}
	_, ok := target.(*ConflictError)
	return ok
}

// NewConflictError creates a new ConflictError.
func NewConflictError(resource, key string) *ConflictError {
	return &ConflictError{Resource: resource, Key: key}
}

// NotFoundError represents a missing route or instance.
type NotFoundError struct {
	Resource string
	Key      string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// Is checks if the error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*NotFoundError)
	return ok
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// MethodNotAllowedError is returned when a route excludes the request method.
type MethodNotAllowedError struct {
	Method string
	Path   string
}

// Error implements the error interface.
func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed for %s", e.Method, e.Path)
}

// Is checks if the error matches the target.
func (e *MethodNotAllowedError) Is(target error) bool {
	if target == ErrMethodNotAllowed {
		return true
	}
	_, ok := target.(*MethodNotAllowedError)
	return ok
}

// NewMethodNotAllowedError creates a new MethodNotAllowedError.
func NewMethodNotAllowedError(method, path string) *MethodNotAllowedError {
	return &MethodNotAllowedError{Method: method, Path: path}
}

// RateLimitError represents an admission rejection by the rate limiter.
type RateLimitError struct {
	Key        string
	Limit      int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d, retry after: %v)", e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(key string, limit int, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Key: key, Limit: limit, RetryAfter: retryAfter}
}

// UnavailableError is returned when a service has no healthy instance.
type UnavailableError struct {
	Service string
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no healthy instance available for service %s", e.Service)
}

// Is checks if the error matches the target.
func (e *UnavailableError) Is(target error) bool {
	if target == ErrNoHealthyInstance {
		return true
	}
	_, ok := target.(*UnavailableError)
	return ok
}

// NewUnavailableError creates a new UnavailableError.
func NewUnavailableError(service string) *UnavailableError {
	return &UnavailableError{Service: service}
}

// UpstreamError represents a failure of the proxied backend call. Timeout
// distinguishes deadline expiry (504) from connection failures (502).
type UpstreamError struct {
	Service string
	Timeout bool
	Cause   error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	kind := "unreachable"
	if e.Timeout {
		kind = "timeout"
	}
	if e.Cause != nil {
		return fmt.Sprintf("upstream %s for service %s: %v", kind, e.Service, e.Cause)
	}
	return fmt.Sprintf("upstream %s for service %s", kind, e.Service)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	if e.Timeout && target == ErrUpstreamTimeout {
		return true
	}
	if !e.Timeout && target == ErrUpstreamUnreachable {
		return true
	}
	_, ok := target.(*UpstreamError)
	return ok || errors.Is(e.Cause, target)
}

// NewUpstreamTimeoutError creates an UpstreamError for a deadline expiry.
func NewUpstreamTimeoutError(service string, cause error) *UpstreamError {
	return &UpstreamError{Service: service, Timeout: true, Cause: cause}
}

// NewUpstreamUnreachableError creates an UpstreamError for a connection failure.
func NewUpstreamUnreachableError(service string, cause error) *UpstreamError {
	return &UpstreamError{Service: service, Cause: cause}
}

// HTTPStatus maps a gateway error to its client-visible status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNoHealthyInstance):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
