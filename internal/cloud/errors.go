// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
)

// Operation names carried by TransportError.
const (
	opComplete = "complete"
	opStream   = "stream"
)

// Error variables for common endpoint failures.
var (
	// ErrEmptyResponse indicates a successful status with no usable body.
	ErrEmptyResponse = errors.New("empty response")

	// ErrBadGateway indicates a proxy error page instead of a completion.
	ErrBadGateway = errors.New("bad gateway")

	// ErrMalformedResponse indicates a body without the expected shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrServiceError indicates an error object reported by the service.
	ErrServiceError = errors.New("service error")
)

// TransportError describes a failed attempt against the completion endpoint.
type TransportError struct {
	Op      string // "complete" or "stream"
	Status  int    // HTTP status, 0 when no response was received
	Message string // human-readable reason
	Partial bool   // deltas were delivered before the failure
	Err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed. Every failure is
// retried except a stream that already delivered deltas.
func (e *TransportError) Retryable() bool {
	return !e.Partial
}

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func isRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable()
}

// gatewaySignatures are proxy error pages some deployments return with a
// 200 status in place of a completion.
var gatewaySignatures = []struct {
	prefix []byte
	status int
}{
	{[]byte("502 bad gateway"), http.StatusBadGateway},
	{[]byte("503 service unavailable"), http.StatusServiceUnavailable},
	{[]byte("504 gateway time-out"), http.StatusGatewayTimeout},
	{[]byte("504 gateway timeout"), http.StatusGatewayTimeout},
}

// gatewaySignature reports whether body starts with a known gateway error
// and the matching status.
func gatewaySignature(body []byte) (int, bool) {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	for _, sig := range gatewaySignatures {
		if bytes.HasPrefix(head, sig.prefix) {
			return sig.status, true
		}
	}
	return 0, false
}
