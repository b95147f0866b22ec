// Package http implements the x402 pay-per-call client: an HTTP request that is answered
// with 402 Payment Required is paid with a signed EIP-3009 authorization and resubmitted.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/encoding"
	"github.com/iaomarket/x402-go/evm"
	"github.com/iaomarket/x402-go/logger"
	"github.com/iaomarket/x402-go/metrics"
	"github.com/iaomarket/x402-go/retry"
	"github.com/iaomarket/x402-go/validation"
)

// Request describes one call to a metered endpoint.
type Request struct {
	// Method defaults to GET, or POST when Body is set.
	Method string

	// URL is the endpoint. Query is merged into its query string.
	URL   string
	Query url.Values

	// Body is sent as-is when it is []byte, json.RawMessage or string, and JSON-encoded otherwise.
	Body any

	// Header is copied onto both the probe and the paid retry.
	Header http.Header

	// Amount, Receiver and Asset are the challenge defaults, usually taken from the
	// catalog. The server's challenge always wins when it carries the field.
	Amount   string
	Receiver string
	Asset    string
}

// Result is the outcome of a completed call.
type Result struct {
	// Body is the final response body, unmodified.
	Body json.RawMessage

	// StatusCode and Header are from the final response.
	StatusCode int
	Header     http.Header

	// Paid reports whether the call went through the payment handshake.
	Paid bool

	// Requirement is the parsed challenge of a paid call.
	Requirement *x402.PaymentRequirement

	// Proof is the envelope sent in the X-PAYMENT header.
	Proof *x402.PaymentProof

	// Settlement is decoded from the X-PAYMENT-RESPONSE header when the server sent one.
	Settlement *x402.SettlementResponse

	// Payment is the "payment" or "settlement" member echoed in a JSON object body.
	Payment json.RawMessage
}

// Client runs the pay-per-call protocol. A Client runs one call at a time; concurrent
// callers that need parallelism use separate clients.
type Client struct {
	gateway    x402.SignatureGateway
	httpClient *http.Client
	builder    *evm.AuthorizationBuilder
	config     Config

	builderOpts []evm.BuilderOption
	log         logger.Logger
	metrics     metrics.Recorder

	onAttempt x402.PaymentCallback
	onSuccess x402.PaymentCallback
	onFailure x402.PaymentCallback

	session *session
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a pay-per-call client. gateway may be nil, in which case every paid
// call fails with ErrWalletNotConnected.
func NewClient(gateway x402.SignatureGateway, opts ...ClientOption) (*Client, error) {
	c := &Client{
		gateway: gateway,
		config:  DefaultConfig(),
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.config.RequestTimeout}
	}

	builderOpts := append([]evm.BuilderOption{evm.WithValidityWindow(c.config.ValidityWindow)}, c.builderOpts...)
	c.builder = evm.NewAuthorizationBuilder(builderOpts...)
	c.session = &session{log: c.log}

	return c, nil
}

// WithHTTPClient sets the HTTP client used for both round trips.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		if httpClient == nil {
			return errors.New("http client cannot be nil")
		}
		c.httpClient = httpClient
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) ClientOption {
	return func(c *Client) error {
		c.config = cfg
		return nil
	}
}

// WithSettlementDelay sets the wait between signing and the paid retry. Zero is allowed.
func WithSettlementDelay(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.config.Settlement.InitialDelay = d
		return nil
	}
}

// WithSettlementPolicy sets the full settlement retry policy.
func WithSettlementPolicy(p SettlementPolicy) ClientOption {
	return func(c *Client) error {
		c.config.Settlement = p
		return nil
	}
}

// WithValidityWindow sets how long each signed authorization stays valid.
func WithValidityWindow(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.config.ValidityWindow = d
		return nil
	}
}

// WithStrictRequirements makes the client refuse challenges that do not name a known
// EVM network with well-formed addresses.
func WithStrictRequirements() ClientOption {
	return func(c *Client) error {
		c.config.StrictRequirements = true
		return nil
	}
}

// WithBuilderOptions passes options to the authorization builder, for example a chain id
// for a network missing from the chain table.
func WithBuilderOptions(opts ...evm.BuilderOption) ClientOption {
	return func(c *Client) error {
		c.builderOpts = append(c.builderOpts, opts...)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) error {
		if l != nil {
			c.log = l
		}
		return nil
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) ClientOption {
	return func(c *Client) error {
		if r != nil {
			c.metrics = r
		}
		return nil
	}
}

// WithPaymentCallback sets a callback for a specific payment event type.
func WithPaymentCallback(eventType x402.PaymentEventType, callback x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		switch eventType {
		case x402.PaymentEventAttempt:
			c.onAttempt = callback
		case x402.PaymentEventSuccess:
			c.onSuccess = callback
		case x402.PaymentEventFailure:
			c.onFailure = callback
		default:
			return fmt.Errorf("unknown payment event type: %s", eventType)
		}
		return nil
	}
}

// WithPaymentCallbacks sets all payment callbacks at once.
// Pass nil for any callback you don't want to set.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		if onAttempt != nil {
			c.onAttempt = onAttempt
		}
		if onSuccess != nil {
			c.onSuccess = onSuccess
		}
		if onFailure != nil {
			c.onFailure = onFailure
		}
		return nil
	}
}

// State returns the state of the run in flight, or StateIdle.
func (c *Client) State() x402.State {
	return c.session.current()
}

// LastState returns the terminal state of the most recent run.
func (c *Client) LastState() x402.State {
	state, _ := c.session.last()
	return state
}

// LastError returns the classified error of the most recent run, or nil if it completed.
func (c *Client) LastError() error {
	_, err := c.session.last()
	return err
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Call performs req, paying for it if the endpoint answers 402.
// Every returned error is a *x402.PaymentError and matches exactly one class sentinel.
func (c *Client) Call(ctx context.Context, req Request) (*Result, error) {
	tmpl, err := newTemplate(req)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "invalid request", err)
	}

	ex, err := c.do(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	return ex.result(), nil
}

// exchange is the final response of a run plus the payment context that produced it.
type exchange struct {
	status      int
	header      http.Header
	body        []byte
	paid        bool
	requirement *x402.PaymentRequirement
	proof       *x402.PaymentProof
	settlement  *x402.SettlementResponse
}

func (e *exchange) result() *Result {
	return &Result{
		Body:        json.RawMessage(e.body),
		StatusCode:  e.status,
		Header:      e.header,
		Paid:        e.paid,
		Requirement: e.requirement,
		Proof:       e.proof,
		Settlement:  e.settlement,
		Payment:     paymentMetadata(e.body),
	}
}

// do holds the session for one run. On failure the partial exchange is returned along
// with the error so the transport can surface upstream responses. A panic inside the run
// fails it instead of leaving the session held.
func (c *Client) do(ctx context.Context, tmpl *template) (ex *exchange, err error) {
	if !c.session.begin() {
		return nil, x402.NewPaymentError(x402.ErrCodeAlreadyInFlight, "a payment run is already in flight on this client", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			ex = nil
			err = x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "payment run aborted", fmt.Errorf("panic: %v", r))
		}
		c.session.finish(err)
	}()

	start := time.Now()
	ex, err = c.run(ctx, tmpl)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "payment run cancelled", ctx.Err())
	}

	labels := map[string]string{}
	if ex != nil && ex.requirement != nil {
		labels["network"] = ex.requirement.Network
	}
	c.metrics.ObserveLatency(metrics.PayPerCall, time.Since(start), labels)

	if err != nil {
		c.log.Warn("x402 call failed", map[string]any{
			"url":   tmpl.url,
			"code":  string(x402.CodeOf(err)),
			"error": err,
		})
	}
	return ex, err
}

func (c *Client) run(ctx context.Context, tmpl *template) (*exchange, error) {
	probe, err := c.roundTrip(ctx, tmpl, "")
	if err != nil {
		return nil, c.transportError(ctx, "request failed", err)
	}

	if probe.status != http.StatusPaymentRequired {
		if isSuccess(probe.status) {
			return probe, nil
		}
		return probe, upstreamError(probe)
	}

	c.session.advance(x402.StateChallengeReceived)
	requirement, fallbacks := parseChallenge(probe.body, tmpl.defaults)
	if len(fallbacks) > 0 {
		c.log.Warn("x402 challenge incomplete, using caller defaults", map[string]any{
			"url":    tmpl.url,
			"fields": fallbacks,
		})
	}
	probe.requirement = &requirement

	if c.gateway == nil || c.gateway.Address() == "" {
		return probe, x402.NewPaymentError(x402.ErrCodeWalletNotConnected, "no payer account is connected", nil)
	}
	from := c.gateway.Address()

	if err := c.checkRequirement(requirement, fallbacks); err != nil {
		return probe, x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "challenge does not describe a usable payment", err).
			WithResponse(probe.status, probe.body)
	}

	c.session.advance(x402.StateAuthorizing)
	auth, err := c.builder.Build(requirement, from)
	if err != nil {
		return probe, x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "failed to build transfer authorization", err)
	}

	startTime := time.Now()
	event := x402.PaymentEvent{
		Method:    "HTTP",
		URL:       tmpl.url,
		Amount:    requirement.MaxAmountRequired,
		Asset:     requirement.Asset,
		Network:   requirement.Network,
		Scheme:    requirement.Scheme,
		Recipient: requirement.PayTo,
		Payer:     from,
	}
	c.emit(x402.PaymentEventAttempt, event, nil, startTime)

	ex, err := c.pay(ctx, tmpl, requirement, auth, from)
	if err != nil {
		c.emit(x402.PaymentEventFailure, event, err, startTime)
		if ex == nil {
			ex = probe
		}
		return ex, err
	}

	if ex.settlement != nil {
		event.Transaction = ex.settlement.Transaction
	}
	c.emit(x402.PaymentEventSuccess, event, nil, startTime)
	return ex, nil
}

// pay signs the authorization, waits for settlement and submits the proof.
func (c *Client) pay(ctx context.Context, tmpl *template, requirement x402.PaymentRequirement, auth *evm.Authorization, from string) (*exchange, error) {
	signature, err := c.sign(ctx, from, auth)
	if err != nil {
		return nil, err
	}

	proof := x402.PaymentProof{
		X402Version: requirement.ProtocolVersion,
		Scheme:      requirement.Scheme,
		Network:     requirement.Network,
		Payload: x402.ExactPayload{
			Signature:     signature,
			Authorization: auth.Transfer,
		},
	}
	header, err := encoding.EncodeProof(proof)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "failed to encode payment proof", err)
	}

	c.session.advance(x402.StateAwaitingSettlement)
	policy := c.config.Settlement
	if err := retry.Sleep(ctx, policy.InitialDelay); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "payment run cancelled", err)
	}

	c.session.advance(x402.StateRetrying)
	ex, err := retry.WithRetry(ctx, policy.retryConfig(), isResubmittable, func(attempt int) (*exchange, error) {
		c.log.Debug("x402 submitting payment proof", map[string]any{
			"url":     tmpl.url,
			"attempt": attempt,
			"nonce":   auth.Transfer.Nonce,
		})

		if err := validation.ValidateProof(proof, time.Now().Unix()); err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "payment proof expired before submission",
				fmt.Errorf("%w: %v", errProofExpired, err))
		}

		paid, err := c.roundTrip(ctx, tmpl, header)
		if err != nil {
			return nil, c.transportError(ctx, "paid request failed", err)
		}
		paid.paid = true
		paid.requirement = &requirement
		paid.proof = &proof

		switch {
		case isSuccess(paid.status):
			return paid, nil
		case paid.status == http.StatusPaymentRequired:
			return paid, x402.NewPaymentError(x402.ErrCodeSettlementFailed, settlementMessage(paid.body), nil).
				WithResponse(paid.status, paid.body).
				WithDetails("attempt", attempt)
		default:
			return paid, upstreamError(paid).WithDetails("attempt", attempt)
		}
	})
	if err != nil {
		if ex == nil && ctx.Err() != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "payment run cancelled", ctx.Err())
		}
		if errors.Is(err, retry.ErrDeadlineExceeded) {
			err = x402.NewPaymentError(x402.CodeOf(err), "settlement deadline exceeded", err)
		}
		return ex, x402.Classify(err, "paid request failed")
	}

	ex.settlement = c.settlement(ex.header)
	return ex, nil
}

// sign requests the signature and stops waiting as soon as ctx is done, even if the
// gateway itself keeps blocking on a human.
func (c *Client) sign(ctx context.Context, from string, auth *evm.Authorization) (string, error) {
	type outcome struct {
		sig string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("signer panic: %v", r)}
			}
		}()
		sig, err := c.gateway.SignTypedData(ctx, from, auth.TypedData)
		done <- outcome{sig, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return "", x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "payment run cancelled", ctx.Err())
	}

	switch {
	case out.err == nil && out.sig == "":
		return "", x402.NewPaymentError(x402.ErrCodeSignatureRejected, "signer returned an empty signature", nil)
	case out.err == nil:
		return out.sig, nil
	case ctx.Err() != nil:
		return "", x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "payment run cancelled", ctx.Err())
	case errors.Is(out.err, x402.ErrSignerUnavailable):
		return "", x402.NewPaymentError(x402.ErrCodeSignerUnavailable, "no signing capability for "+from, out.err)
	default:
		return "", x402.NewPaymentError(x402.ErrCodeSignatureRejected, "signer declined the authorization", out.err)
	}
}

func (c *Client) checkRequirement(req x402.PaymentRequirement, fallbacks []string) error {
	if c.config.StrictRequirements {
		if len(fallbacks) > 0 {
			return fmt.Errorf("challenge is missing %s", strings.Join(fallbacks, ", "))
		}
		return validation.ValidatePaymentRequirement(req)
	}
	return validation.ValidateMinimalRequirement(req)
}

func (c *Client) settlement(header http.Header) *x402.SettlementResponse {
	value := header.Get(x402.PaymentResponseHeader)
	if value == "" {
		return nil
	}
	settlement, err := decodeSettlement(value)
	if err != nil {
		c.log.Warn("x402 ignoring malformed settlement header", map[string]any{"error": err})
		return nil
	}
	return settlement
}

func decodeSettlement(value string) (*x402.SettlementResponse, error) {
	settlement, err := encoding.DecodeSettlement(value)
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (c *Client) emit(kind x402.PaymentEventType, event x402.PaymentEvent, err error, start time.Time) {
	event.Type = kind
	event.Timestamp = time.Now()
	event.Error = err
	if kind != x402.PaymentEventAttempt {
		event.Duration = time.Since(start)
	}

	labels := map[string]string{"network": event.Network}
	var callback x402.PaymentCallback
	switch kind {
	case x402.PaymentEventAttempt:
		c.metrics.IncCounter(metrics.PaymentAttempt, labels)
		callback = c.onAttempt
	case x402.PaymentEventSuccess:
		c.metrics.IncCounter(metrics.PaymentSuccess, labels)
		callback = c.onSuccess
		c.log.Info("x402 payment settled", map[string]any{
			"url":         event.URL,
			"amount":      event.Amount,
			"network":     event.Network,
			"transaction": event.Transaction,
		})
	case x402.PaymentEventFailure:
		labels["code"] = string(x402.CodeOf(err))
		c.metrics.IncCounter(metrics.PaymentFailure, labels)
		callback = c.onFailure
	}
	if callback != nil {
		callback(event)
	}
}

func (c *Client) transportError(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "payment run cancelled", ctx.Err())
	}
	return x402.NewPaymentError(x402.ErrCodeUnknownProtocol, msg, err)
}

// roundTrip sends one request built from tmpl and reads the whole response.
func (c *Client) roundTrip(ctx context.Context, tmpl *template, proof string) (*exchange, error) {
	req, err := tmpl.request(ctx, proof)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &exchange{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// errProofExpired marks a proof whose authorization window no longer covers the present.
var errProofExpired = errors.New("authorization is outside its validity window")

// isResubmittable reports whether the same proof may be sent again.
func isResubmittable(err error) bool {
	var pe *x402.PaymentError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case x402.ErrCodeSettlementFailed:
		return true
	case x402.ErrCodeUpstreamAPI:
		return pe.StatusCode >= http.StatusInternalServerError
	default:
		if errors.Is(pe.Err, errProofExpired) {
			return false
		}
		return pe.StatusCode == 0 && pe.Err != nil && !errors.Is(pe.Err, context.Canceled) && !errors.Is(pe.Err, context.DeadlineExceeded)
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func upstreamError(ex *exchange) *x402.PaymentError {
	return x402.NewPaymentError(x402.ErrCodeUpstreamAPI, upstreamMessage(ex.status, ex.body), nil).
		WithResponse(ex.status, ex.body)
}

// settlementMessage reports the reason a server gives in a 402 answer to a paid request.
func settlementMessage(body []byte) string {
	var challenge x402.PaymentRequirementsResponse
	if json.Unmarshal(body, &challenge) == nil && challenge.Error != "" {
		return "payment was not accepted: " + challenge.Error
	}
	return "payment was not accepted"
}

// upstreamMessage prefers the "error" or "message" member of a JSON error body.
func upstreamMessage(status int, body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if s, ok := stringField(payload.Error); ok && s != "" {
			return s
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fmt.Sprintf("API request failed (Status: %d)", status)
}

// paymentMetadata returns the payment or settlement member of a JSON object body.
func paymentMetadata(body []byte) json.RawMessage {
	var obj map[string]json.RawMessage
	if json.Unmarshal(body, &obj) != nil {
		return nil
	}
	if raw, ok := obj["payment"]; ok {
		return raw
	}
	return obj["settlement"]
}

// template is a replayable request: the same method, URL, headers and body are sent on
// the probe and on every paid submission.
type template struct {
	method   string
	url      string
	header   http.Header
	body     []byte
	defaults ChallengeDefaults
}

func newTemplate(req Request) (*template, error) {
	if req.URL == "" {
		return nil, errors.New("request URL cannot be empty")
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	return &template{
		method: method,
		url:    u.String(),
		header: header,
		body:   body,
		defaults: ChallengeDefaults{
			Receiver: req.Receiver,
			Asset:    req.Asset,
			Amount:   req.Amount,
		},
	}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, nil
	}
}

func (t *template) request(ctx context.Context, proof string) (*http.Request, error) {
	var body io.Reader
	if t.body != nil {
		body = bytes.NewReader(t.body)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, t.url, body)
	if err != nil {
		return nil, err
	}
	req.Header = t.header.Clone()
	if proof != "" {
		req.Header.Set(x402.PaymentHeader, proof)
	}
	return req, nil
}
