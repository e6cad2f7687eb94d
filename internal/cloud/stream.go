// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// STREAMING: Robust SSE parsing with error handling

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE line (64KB).
const MaxChunkSize = 64 * 1024

var doneSentinel = []byte("[DONE]")

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader yields the payloads of "data:" lines one at a time. Other SSE
// fields and comments are ignored. Lines that are not SSE at all are
// returned with raw set, so proxy error pages can be recognized.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a reader over r.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxChunkSize)
	return &SSEReader{scanner: sc}
}

// Next returns the next non-empty payload. It returns io.EOF at the end of
// the stream and bufio.ErrTooLong for a line over MaxChunkSize.
func (s *SSEReader) Next() (payload []byte, raw bool, err error) {
	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			continue
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimSpace(line[5:])
			if len(data) == 0 {
				continue
			}
			return data, false, nil
		case line[0] == ':',
			bytes.HasPrefix(line, []byte("event:")),
			bytes.HasPrefix(line, []byte("id:")),
			bytes.HasPrefix(line, []byte("retry:")):
			continue
		default:
			return bytes.TrimSpace(line), true, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, io.EOF
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Stream performs a streaming completion, calling onDelta synchronously for
// every non-empty content delta in arrival order. It returns nil when the
// service signals the end of the stream, or closes it after at least one
// delta. A stream closed with neither is an empty response.
//
// Failures before the first delta are retried with linear backoff. Once a
// delta has been delivered the failure is returned with Partial set.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage, onDelta func(string)) error {
	ctx, done := c.beginCall(ctx)
	defer done()

	return c.withRetry(ctx, opStream, func(ctx context.Context, attempt int) error {
		return c.streamOnce(ctx, messages, attempt, onDelta)
	})
}

func (c *Client) streamOnce(ctx context.Context, messages []ChatMessage, attempt int, onDelta func(string)) error {
	req, err := c.newRequest(ctx, messages, true)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, c.streamClient, req, opStream, attempt)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := readResponse(resp)
		return statusError(opStream, resp.StatusCode, body)
	}

	return c.processStream(ctx, resp.Body, onDelta)
}

// processStream reads events until [DONE], EOF or a failure.
func (c *Client) processStream(ctx context.Context, body io.Reader, onDelta func(string)) error {
	reader := NewSSEReader(body)
	delivered := false

	for {
		payload, raw, err := reader.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				if !delivered {
					return &TransportError{Op: opStream, Message: "empty response", Err: ErrEmptyResponse}
				}
				return nil
			}
			msg := "stream interrupted"
			if errors.Is(err, bufio.ErrTooLong) {
				msg = "stream event exceeds maximum size"
			}
			return &TransportError{Op: opStream, Message: msg, Partial: delivered, Err: err}
		}

		if bytes.Equal(payload, doneSentinel) {
			return nil
		}
		if status, ok := gatewaySignature(payload); ok {
			return &TransportError{Op: opStream, Status: status, Message: http.StatusText(status), Partial: delivered, Err: ErrBadGateway}
		}
		if raw || !gjson.ValidBytes(payload) {
			c.logger.Debug("skipping malformed stream event", zap.Int("bytes", len(payload)))
			continue
		}
		if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
			return &TransportError{Op: opStream, Message: msg.String(), Partial: delivered, Err: ErrServiceError}
		}

		delta := gjson.GetBytes(payload, "choices.0.delta.content").String()
		if delta == "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivered = true
		onDelta(delta)
	}
}
