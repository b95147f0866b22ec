package x402

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt indicates a payment is being attempted.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess indicates a payment succeeded.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure indicates a payment failed.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent represents a payment lifecycle event.
type PaymentEvent struct {
	// Type is the event type (attempt, success, failure).
	Type PaymentEventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Method is the transport method ("HTTP" or "MCP").
	Method string

	// URL is the endpoint being accessed.
	URL string

	// Amount is the payment amount in atomic units.
	Amount string

	// Asset is the token address.
	Asset string

	// Network is the settlement network identifier.
	Network string

	// Scheme is the payment scheme (e.g., "exact").
	Scheme string

	// Recipient is the payment recipient address.
	Recipient string

	// Payer is the address that signed the authorization.
	Payer string

	// Transaction is the settlement transaction hash (available on success when echoed).
	Transaction string

	// Error contains error details (available on failure).
	Error error

	// Duration is the time taken since the challenge was received.
	Duration time.Duration
}

// PaymentCallback is a function that handles payment events.
// Callbacks are invoked synchronously during the run, so they should be fast.
type PaymentCallback func(PaymentEvent)
