package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewayError represents an error that can be returned to clients as a
// structured JSON body. Status is the HTTP status code, Code a stable
// machine-readable identifier.
type GatewayError struct {
	Status        int       `json:"status"`
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	Path          string    `json:"path,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	underlying    error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response. The timestamp is
// stamped at write time.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	out := *e
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(out.Status)
	json.NewEncoder(w).Encode(&out)
}

// Common errors. These are templates: use the WithX builders to attach
// request-specific fields rather than mutating the singletons.
var (
	ErrUnauthorized = &GatewayError{
		Status:  http.StatusUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: "Authentication failed",
	}

	ErrForbidden = &GatewayError{
		Status:  http.StatusForbidden,
		Code:    "FORBIDDEN",
		Message: "Access denied",
	}

	ErrNotFound = &GatewayError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: "Route not found",
	}

	ErrTenantNotFound = &GatewayError{
		Status:  http.StatusNotFound,
		Code:    "TENANT_NOT_FOUND",
		Message: "Tenant not found",
	}

	ErrRateLimitExceeded = &GatewayError{
		Status:  http.StatusTooManyRequests,
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "Rate limit exceeded",
	}

	ErrBadGateway = &GatewayError{
		Status:  http.StatusBadGateway,
		Code:    "BAD_GATEWAY",
		Message: "Backend service unavailable",
	}

	ErrGatewayTimeout = &GatewayError{
		Status:  http.StatusGatewayTimeout,
		Code:    "GATEWAY_TIMEOUT",
		Message: "Backend service timed out",
	}

	ErrInternal = &GatewayError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: "An unexpected error occurred",
	}
)

// New creates a new GatewayError.
func New(status int, code, message string) *GatewayError {
	return &GatewayError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with a client-facing status, code, and message.
func Wrap(err error, status int, code, message string) *GatewayError {
	return &GatewayError{
		Status:     status,
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// WithMessage returns a copy with the message replaced. An empty message
// keeps the template default so clients always see some text.
func (e *GatewayError) WithMessage(message string) *GatewayError {
	if message == "" {
		return e
	}
	out := *e
	out.Message = message
	return &out
}

// WithRequest returns a copy annotated with the request path and
// correlation id.
func (e *GatewayError) WithRequest(path, correlationID string) *GatewayError {
	out := *e
	out.Path = path
	out.CorrelationID = correlationID
	return &out
}

// AsGatewayError checks if an error is a GatewayError.
func AsGatewayError(err error) (*GatewayError, bool) {
	if ge, ok := err.(*GatewayError); ok {
		return ge, true
	}
	return nil, false
}
