// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Configuration constants for the completion endpoint.
const (
	// DefaultBaseURL is the OpenAI-compatible endpoint root.
	DefaultBaseURL = "https://text.pollinations.ai/openai"

	// DefaultModel is the model identifier sent with every request.
	DefaultModel = "openai"

	// DefaultTemperature and DefaultTopP are the sampling parameters.
	DefaultTemperature = 0.8
	DefaultTopP        = 0.9

	// DefaultMaxAttempts bounds attempts per call, the first one included.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the linear backoff unit: attempt n+1 waits n units.
	DefaultRetryDelay = 900 * time.Millisecond

	// DefaultConnectTimeout bounds dialing and waiting for response headers.
	DefaultConnectTimeout = 20 * time.Second

	// DefaultCallTimeout bounds a whole non-streaming call.
	DefaultCallTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "nexus/0.1"
)

// ChatMessage is a single message in the request body.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// ChatRequest is the body of a chat completions request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	Stream      bool          `json:"stream"`
	Messages    []ChatMessage `json:"messages"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to an OpenAI-compatible chat completions endpoint. Configure
// it with the With* methods before first use; after that it is safe for
// concurrent use, though only the most recent call is cancellable through
// CancelActive.
type Client struct {
	apiKey         string
	baseURL        string
	model          string
	temperature    float64
	topP           float64
	maxAttempts    int
	retryDelay     time.Duration
	connectTimeout time.Duration
	callTimeout    time.Duration
	limiter        *rate.Limiter
	logger         *zap.Logger

	httpClient   *http.Client // non-streaming, whole-call timeout
	streamClient *http.Client // streaming, context-controlled

	// wait sleeps between attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	callSeq      uint64
	activeCall   uint64
	activeCancel context.CancelFunc
}

// NewClient creates a client with the default endpoint and sampling. An
// empty apiKey sends no Authorization header.
func NewClient(apiKey string) *Client {
	c := &Client{
		apiKey:         strings.TrimSpace(apiKey),
		baseURL:        DefaultBaseURL,
		model:          DefaultModel,
		temperature:    DefaultTemperature,
		topP:           DefaultTopP,
		maxAttempts:    DefaultMaxAttempts,
		retryDelay:     DefaultRetryDelay,
		connectTimeout: DefaultConnectTimeout,
		callTimeout:    DefaultCallTimeout,
		logger:         zap.NewNop(),
		wait:           sleepContext,
	}
	c.buildHTTPClients()
	return c
}

// WithBaseURL sets the endpoint root; "/chat/completions" is appended.
func (c *Client) WithBaseURL(url string) *Client {
	if url = strings.TrimSpace(url); url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithModel sets the model identifier.
func (c *Client) WithModel(model string) *Client {
	if model = strings.TrimSpace(model); model != "" {
		c.model = model
	}
	return c
}

// WithSampling sets temperature and top_p.
func (c *Client) WithSampling(temperature, topP float64) *Client {
	c.temperature = temperature
	c.topP = topP
	return c
}

// WithMaxAttempts sets the attempt bound. Values below 1 mean 1.
func (c *Client) WithMaxAttempts(n int) *Client {
	if n < 1 {
		n = 1
	}
	c.maxAttempts = n
	return c
}

// WithRetryDelay sets the linear backoff unit.
func (c *Client) WithRetryDelay(d time.Duration) *Client {
	if d >= 0 {
		c.retryDelay = d
	}
	return c
}

// WithConnectTimeout sets the dial and response-header bound.
func (c *Client) WithConnectTimeout(d time.Duration) *Client {
	if d > 0 {
		c.connectTimeout = d
		c.buildHTTPClients()
	}
	return c
}

// WithRateLimit paces attempts to at most perMinute per minute. Zero or a
// negative value disables pacing.
func (c *Client) WithRateLimit(perMinute int) *Client {
	if perMinute <= 0 {
		c.limiter = nil
		return c
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	return c
}

// WithLogger sets the logger. Nil keeps the current one.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger.With(zap.String("component", "cloud"))
	}
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the configured endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// buildHTTPClients creates both HTTP clients around one pooled transport.
// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
func (c *Client) buildHTTPClients() {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: c.connectTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	c.httpClient = &http.Client{Transport: transport, Timeout: c.callTimeout}
	// No timeout for streaming - controlled via context
	c.streamClient = &http.Client{Transport: transport}
}

// =============================================================================
// API KEY HANDLING
// =============================================================================

// APIKeyMasked returns a display form of the API key.
// SECURITY: Never exposes API key fragments - use fingerprint instead.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.KeyFingerprint())
}

// KeyFingerprint returns the first 8 hex characters of the key's SHA-256.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// CANCELLATION
// =============================================================================

// beginCall derives a cancellable context and registers it as the active
// call. The returned func must be called when the call ends.
func (c *Client) beginCall(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.callSeq++
	id := c.callSeq
	c.activeCall = id
	c.activeCancel = cancel
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		if c.activeCall == id {
			c.activeCall = 0
			c.activeCancel = nil
		}
		c.mu.Unlock()
		cancel()
	}
}

// CancelActive aborts the call in flight, if any. The aborted call returns
// an error matching context.Canceled and delivers no further deltas.
func (c *Client) CancelActive() {
	c.mu.Lock()
	cancel := c.activeCancel
	c.activeCall = 0
	c.activeCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		c.logger.Debug("cancelling active call")
		cancel()
	}
}

// =============================================================================
// RETRY
// =============================================================================

// attemptFunc performs one attempt. Attempts are numbered from 1.
type attemptFunc func(ctx context.Context, attempt int) error

// withRetry runs fn up to maxAttempts times, waiting attempt*retryDelay
// before each retry. Only retryable transport errors are retried and
// cancellation is returned as the context's error.
func (c *Client) withRetry(ctx context.Context, op string, fn attemptFunc) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * c.retryDelay
			c.logger.Warn("retrying after transport error",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := c.wait(ctx, delay); err != nil {
				return err
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &TransportError{Op: op, Message: "rate limit wait failed", Err: err}
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

// newRequest builds a POST to the completions endpoint.
func (c *Client) newRequest(ctx context.Context, messages []ChatMessage, stream bool) (*http.Request, error) {
	body, err := json.Marshal(ChatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		TopP:        c.topP,
		Stream:      stream,
		Messages:    messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// logRequest logs an API request without exposing sensitive data.
// SECURITY: does not log headers (may contain auth) or body (may contain user text).
func (c *Client) logRequest(req *http.Request, attempt int) {
	c.logger.Debug("api request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("attempt", attempt),
		zap.String("key", c.KeyFingerprint()))
}

// logResponse logs status code and duration only.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	c.logger.Debug("api response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))
}

// do sends req with hc and converts network failures to transport errors.
func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request, op string, attempt int) (*http.Response, error) {
	c.logRequest(req, attempt)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := "request failed"
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			msg = "connection timed out"
		}
		return nil, &TransportError{Op: op, Message: msg, Err: err}
	}
	c.logResponse(resp, time.Since(start))
	return resp, nil
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// statusError converts a non-2xx response body to a transport error.
func statusError(op string, status int, body []byte) *TransportError {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &TransportError{Op: op, Status: status, Message: msg}
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete performs a non-streaming completion and returns the reply text.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	ctx, done := c.beginCall(ctx)
	defer done()

	var reply string
	err := c.withRetry(ctx, opComplete, func(ctx context.Context, attempt int) error {
		text, err := c.completeOnce(ctx, messages, attempt)
		if err == nil {
			reply = text
		}
		return err
	})
	return reply, err
}

func (c *Client) completeOnce(ctx context.Context, messages []ChatMessage, attempt int) (string, error) {
	req, err := c.newRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, c.httpClient, req, opComplete, attempt)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Op: opComplete, Status: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(opComplete, resp.StatusCode, body)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", &TransportError{Op: opComplete, Status: resp.StatusCode, Message: "empty response", Err: ErrEmptyResponse}
	}
	if status, ok := gatewaySignature(trimmed); ok {
		return "", &TransportError{Op: opComplete, Status: status, Message: http.StatusText(status), Err: ErrBadGateway}
	}
	if !gjson.ValidBytes(trimmed) {
		return "", &TransportError{Op: opComplete, Status: resp.StatusCode, Message: "response is not JSON", Err: ErrMalformedResponse}
	}
	if msg := gjson.GetBytes(trimmed, "error.message"); msg.Exists() {
		return "", &TransportError{Op: opComplete, Status: resp.StatusCode, Message: msg.String(), Err: ErrServiceError}
	}

	content := gjson.GetBytes(trimmed, "choices.0.message.content")
	if content.Type != gjson.String {
		return "", &TransportError{Op: opComplete, Status: resp.StatusCode, Message: "response has no message content", Err: ErrMalformedResponse}
	}
	if strings.TrimSpace(content.String()) == "" {
		return "", &TransportError{Op: opComplete, Status: resp.StatusCode, Message: "empty response", Err: ErrEmptyResponse}
	}
	return content.String(), nil
}
