// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the client for the hosted chat completions service.
//
// The service speaks the OpenAI chat completions dialect. Stream delivers a
// reply as Server-Sent Events, one content delta at a time; Complete returns
// the whole reply in one response. Both retry transient failures with a
// linear backoff and can be aborted from another goroutine.
//
// # Key Types
//
//   - Client: HTTP client with retry, pacing and cancellation
//   - ChatMessage: role/content pair of the request body
//   - SSEReader: line-oriented reader for "data:" payloads
//   - TransportError: failed attempt with status, reason and partial flag
//
// # Usage
//
//	client := cloud.NewClient(apiKey).
//	    WithModel("openai").
//	    WithLogger(logger)
//
//	err := client.Stream(ctx, []cloud.ChatMessage{
//	    cloud.NewUserMessage("Hello"),
//	}, func(delta string) {
//	    fmt.Print(delta)
//	})
//
// # Security
//
// API keys are never logged; log lines carry a SHA-256 fingerprint instead.
// Request and response bodies are never logged.
package cloud
