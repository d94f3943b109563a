// Package errors defines the tagged service error used across the API,
// middleware, and domain services.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is the stable machine-readable identifier of a failure.
type ErrorCode string

// Kind groups error codes into the taxonomy the API exposes.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindIdentity     Kind = "identity"
	KindVerification Kind = "verification"
	KindConcurrency  Kind = "concurrency"
	KindNotFound     Kind = "not_found"
	KindUnavailable  Kind = "unavailable"
	KindAuth         Kind = "auth"
	KindRateLimit    Kind = "rate_limit"
	KindInternal     Kind = "internal"
)

const (
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeInvalidFormat     ErrorCode = "INVALID_FORMAT"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ServiceError carries a code, a kind, a client-safe message, and the HTTP
// status the API layer should answer with.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Kind       Kind                   `json:"kind"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// New builds a ServiceError. Package-level sentinels are created with New and
// specialised per call with WithDetails or Wrap.
func New(kind Kind, code ErrorCode, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Kind: kind, Message: message, HTTPStatus: status}
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches any ServiceError carrying the same code, so copies made by
// WithDetails and Wrap still satisfy errors.Is against their sentinel.
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithDetails returns a copy with one more detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	clone := e.clone()
	clone.Details[key] = value
	return clone
}

// Wrap returns a copy that records err as its cause.
func (e *ServiceError) Wrap(err error) *ServiceError {
	clone := e.clone()
	clone.Err = err
	return clone
}

func (e *ServiceError) clone() *ServiceError {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	return &out
}

// GetServiceError extracts the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// HTTPStatus maps err to a status code, defaulting to 500.
func HTTPStatus(err error) int {
	if svcErr := GetServiceError(err); svcErr != nil && svcErr.HTTPStatus != 0 {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err carries a ServiceError of the given kind.
func IsKind(err error, kind Kind) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Kind == kind
}

func InvalidInput(field, reason string) *ServiceError {
	return New(KindValidation, CodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason), http.StatusBadRequest).
		WithDetails("field", field)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(KindValidation, CodeInvalidFormat, fmt.Sprintf("%s must be %s", field, expected), http.StatusBadRequest).
		WithDetails("field", field)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return New(KindAuth, CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return New(KindAuth, CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized).Wrap(err)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Forbidden"
	}
	return New(KindAuth, CodeForbidden, message, http.StatusForbidden)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(KindRateLimit, CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return New(KindInternal, CodeInternal, message, http.StatusInternalServerError).Wrap(err)
}
