package x402

import (
	"errors"
	"fmt"
)

// Protocol failure classes. Every error leaving the pay-per-call client matches
// exactly one of these with errors.Is.
var (
	// ErrAlreadyInFlight is returned when a call is made while another run holds the client.
	ErrAlreadyInFlight = errors.New("x402: a payment run is already in flight")

	// ErrWalletNotConnected indicates that no payer account is available.
	ErrWalletNotConnected = errors.New("x402: wallet not connected")

	// ErrSignerUnavailable indicates that no signing capability exists for the active account.
	ErrSignerUnavailable = errors.New("x402: signer unavailable")

	// ErrSignatureRejected indicates that the signer declined or failed to sign.
	ErrSignatureRejected = errors.New("x402: signature rejected")

	// ErrSettlementFailed indicates that the paid retry was answered with another 402.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrUpstreamAPI indicates a non-successful response from the target endpoint.
	ErrUpstreamAPI = errors.New("x402: upstream API error")

	// ErrUnknownProtocol is the fallback class for failures nothing more specific describes.
	ErrUnknownProtocol = errors.New("x402: unknown protocol error")
)

// Supporting errors used by builders, codecs and wallets.
var (
	// ErrInvalidAmount indicates an amount that is not a non-negative integer string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidAddress indicates a malformed account or contract address.
	ErrInvalidAddress = errors.New("x402: invalid address")

	// ErrUnsupportedNetwork indicates a network with no known chain configuration.
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")

	// ErrInvalidKey indicates an unusable private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidKeystore indicates an unreadable or undecryptable keystore file.
	ErrInvalidKeystore = errors.New("x402: invalid keystore file")

	// ErrInvalidMnemonic indicates an invalid BIP-39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("x402: invalid mnemonic phrase")

	// ErrMalformedHeader indicates that a payment header could not be decoded.
	ErrMalformedHeader = errors.New("x402: malformed payment header")
)

// ErrorCode identifies the class of a PaymentError.
type ErrorCode string

const (
	ErrCodeAlreadyInFlight    ErrorCode = "ALREADY_IN_FLIGHT"
	ErrCodeWalletNotConnected ErrorCode = "WALLET_NOT_CONNECTED"
	ErrCodeSignerUnavailable  ErrorCode = "SIGNER_UNAVAILABLE"
	ErrCodeSignatureRejected  ErrorCode = "SIGNATURE_REJECTED"
	ErrCodeSettlementFailed   ErrorCode = "SETTLEMENT_FAILED"
	ErrCodeUpstreamAPI        ErrorCode = "UPSTREAM_API_ERROR"
	ErrCodeUnknownProtocol    ErrorCode = "UNKNOWN_PROTOCOL_ERROR"
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeAlreadyInFlight:    ErrAlreadyInFlight,
	ErrCodeWalletNotConnected: ErrWalletNotConnected,
	ErrCodeSignerUnavailable:  ErrSignerUnavailable,
	ErrCodeSignatureRejected:  ErrSignatureRejected,
	ErrCodeSettlementFailed:   ErrSettlementFailed,
	ErrCodeUpstreamAPI:        ErrUpstreamAPI,
	ErrCodeUnknownProtocol:    ErrUnknownProtocol,
}

// maxBodySnippet bounds the response body kept on an error.
const maxBodySnippet = 512

// PaymentError is a classified protocol failure with enough context for the caller to
// decide whether to retry, re-approve a signature, or reconnect a wallet.
type PaymentError struct {
	// Code is the failure class.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// StatusCode is the HTTP status of the response that caused the failure, if any.
	StatusCode int

	// Body is a snippet of the response body that caused the failure, if any.
	Body string

	// Details carries additional context.
	Details map[string]interface{}

	// Err is the underlying cause.
	Err error
}

// NewPaymentError creates a PaymentError of the given class.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// WithDetails adds a key/value pair of context and returns the error for chaining.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithResponse records the HTTP status and a bounded snippet of the body.
func (e *PaymentError) WithResponse(status int, body []byte) *PaymentError {
	e.StatusCode = status
	if len(body) > maxBodySnippet {
		body = body[:maxBodySnippet]
	}
	e.Body = string(body)
	return e
}

// Error implements error.
func (e *PaymentError) Error() string {
	msg := fmt.Sprintf("x402 %s: %s", e.Code, e.Message)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's class.
func (e *PaymentError) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

// CodeOf returns the class of err. Unclassified errors map to ErrCodeUnknownProtocol.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrCodeUnknownProtocol
}

// Classify wraps err in a PaymentError unless it already carries a class.
// The cause stays reachable, so errors.Is(err, context.Canceled) still holds.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return err
	}
	return NewPaymentError(CodeOf(err), message, err)
}
