package coinbase

import (
	"fmt"
	"time"
)

// Error type constants for programmatic error classification.
const (
	// ErrorTypeRateLimit indicates HTTP 429. Retried after RetryAfter.
	ErrorTypeRateLimit = "rate_limit"

	// ErrorTypeServerError indicates HTTP 5xx. Retried with backoff.
	ErrorTypeServerError = "server_error"

	// ErrorTypeAuthError indicates HTTP 401 or 403.
	ErrorTypeAuthError = "auth_error"

	// ErrorTypeNotFound indicates HTTP 404, typically an account the credentials do not own.
	ErrorTypeNotFound = "not_found"

	// ErrorTypeClientError indicates any other HTTP 4xx.
	ErrorTypeClientError = "client_error"
)

// CDPError is a non-2xx answer from the Coinbase Developer Platform API.
type CDPError struct {
	// StatusCode is the HTTP status returned by the API.
	StatusCode int

	// ErrorType is one of the ErrorType constants.
	ErrorType string

	// Message is the response body, or a generic description when the body was empty.
	Message string

	// RequestID is the X-Request-ID header, quoted when contacting support.
	RequestID string

	// Retryable reports whether the request may succeed if sent again.
	Retryable bool

	// RetryAfter is the server-requested wait before the next attempt. Zero means
	// the client's own backoff applies.
	RetryAfter time.Duration

	// AttemptNumber is the 1-based attempt that produced the error.
	AttemptNumber int

	Method string
	Path   string
}

// Error implements error.
func (e *CDPError) Error() string {
	msg := fmt.Sprintf("CDP API error [%d]: %s", e.StatusCode, e.Message)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (RequestID: %s)", e.RequestID)
	}
	if e.Method != "" && e.Path != "" {
		msg += fmt.Sprintf(" [%s %s]", e.Method, e.Path)
	}
	if e.AttemptNumber > 1 {
		msg += fmt.Sprintf(" (attempt %d)", e.AttemptNumber)
	}
	return msg
}
