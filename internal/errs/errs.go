package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorizes failures so callers can map them to transport codes and
// decide whether they count against a circuit breaker.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindTimeout            Kind = "timeout_error"
	KindServiceUnavailable Kind = "service_unavailable"
	KindRateLimit          Kind = "rate_limit_error"
	KindInternal           Kind = "internal_error"
)

// Error is a categorized error carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a categorized error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a categorized error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind from an error chain, defaulting to internal_error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsValidation reports whether the error chain carries a validation kind.
// Validation failures never count against circuit breakers.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// TripsBreaker reports whether the error should be recorded as a breaker failure.
func TripsBreaker(err error) bool {
	switch KindOf(err) {
	case KindValidation:
		return false
	default:
		return true
	}
}

// HTTPStatus maps a kind to its HTTP-equivalent status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Code maps a kind to the wire-level error code.
func Code(kind Kind) string {
	switch kind {
	case KindValidation:
		return "VALIDATION_FAILED"
	case KindTimeout:
		return "TIMEOUT"
	case KindServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case KindRateLimit:
		return "RATE_LIMIT"
	default:
		return "INTERNAL"
	}
}

// Classify maps an arbitrary provider error into the taxonomy by inspecting
// the error chain and message, mirroring how exchange errors are normalized
// for metrics.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "rate") || strings.Contains(msg, "429"):
		return KindRateLimit
	case strings.Contains(msg, "503") || strings.Contains(msg, "unavailable"):
		return KindServiceUnavailable
	default:
		return KindInternal
	}
}
