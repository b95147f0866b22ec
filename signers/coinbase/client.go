package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/iaomarket/x402-go/retry"
)

// DefaultBaseURL is the production CDP API endpoint.
const DefaultBaseURL = "https://api.cdp.coinbase.com"

// cdpAuth issues request tokens; tests substitute a fixed implementation.
type cdpAuth interface {
	GenerateBearerToken(method, path string) (string, error)
	GenerateWalletAuthToken(method, path string, body []byte) (string, error)
}

// defaultRetryConfig retries rate limits and server errors.
var defaultRetryConfig = retry.Config{
	MaxAttempts:  5,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
}

// CDPClient is an authenticated JSON client for the CDP REST API.
// It is safe for concurrent use.
type CDPClient struct {
	baseURL    string
	httpClient *http.Client
	auth       cdpAuth
	retry      retry.Config
}

// NewCDPClient creates a client for the production API with a 30 second timeout.
func NewCDPClient(auth cdpAuth) *CDPClient {
	return &CDPClient{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		auth:  auth,
		retry: defaultRetryConfig,
	}
}

// doRequest performs a single attempt. body is JSON-encoded; result, when non-nil,
// receives the decoded response.
func (c *CDPClient) doRequest(ctx context.Context, method, path string, body, result interface{}, requireWalletAuth bool, attempt int) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token, err := c.auth.GenerateBearerToken(method, path)
	if err != nil {
		return fmt.Errorf("generate JWT: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	if requireWalletAuth {
		walletToken, err := c.auth.GenerateWalletAuthToken(method, path, bodyBytes)
		if err != nil {
			return fmt.Errorf("generate wallet auth JWT: %w", err)
		}
		req.Header.Set("X-Wallet-Auth", walletToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyError(resp, method, path, attempt)
	}

	if result != nil {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// classifyError maps a non-2xx response to a CDPError.
func classifyError(resp *http.Response, method, path string, attempt int) error {
	cdpErr := &CDPError{
		StatusCode:    resp.StatusCode,
		RequestID:     resp.Header.Get("X-Request-ID"),
		Method:        method,
		Path:          path,
		AttemptNumber: attempt,
	}

	if raw, _ := io.ReadAll(resp.Body); len(raw) > 0 {
		cdpErr.Message = string(raw)
	}

	var fallback string
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cdpErr.ErrorType = ErrorTypeRateLimit
		cdpErr.Retryable = true
		cdpErr.RetryAfter = parseRetryAfter(resp)
		fallback = "Rate limit exceeded"
	case resp.StatusCode >= 500:
		cdpErr.ErrorType = ErrorTypeServerError
		cdpErr.Retryable = true
		fallback = "CDP server error"
	case resp.StatusCode == http.StatusUnauthorized:
		cdpErr.ErrorType = ErrorTypeAuthError
		fallback = "Authentication failed - check API credentials"
	case resp.StatusCode == http.StatusForbidden:
		cdpErr.ErrorType = ErrorTypeAuthError
		fallback = "Insufficient permissions"
	case resp.StatusCode == http.StatusNotFound:
		cdpErr.ErrorType = ErrorTypeNotFound
		fallback = "Resource not found"
	default:
		cdpErr.ErrorType = ErrorTypeClientError
		fallback = "Invalid request parameters"
	}
	if cdpErr.Message == "" {
		cdpErr.Message = fallback
	}
	return cdpErr
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date. It returns zero when the
// header is absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func isRetryableCDPError(err error) bool {
	var cdpErr *CDPError
	return errors.As(err, &cdpErr) && cdpErr.Retryable
}

// doRequestWithRetry retries rate limits and server errors with exponential backoff.
// A Retry-After longer than the backoff is honored before the next attempt.
func (c *CDPClient) doRequestWithRetry(ctx context.Context, method, path string, body, result interface{}, requireWalletAuth bool) error {
	var wait time.Duration
	_, err := retry.WithRetry(ctx, c.retry, isRetryableCDPError, func(attempt int) (struct{}, error) {
		if extra := wait - c.retry.Delay(attempt); extra > 0 {
			if err := retry.Sleep(ctx, extra); err != nil {
				return struct{}{}, err
			}
		}
		err := c.doRequest(ctx, method, path, body, result, requireWalletAuth, attempt)
		var cdpErr *CDPError
		if errors.As(err, &cdpErr) {
			wait = cdpErr.RetryAfter
		}
		return struct{}{}, err
	})
	return err
}
