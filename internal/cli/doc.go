// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the nexus command-line interface.
//
// # Key Types
//
//   - App: configuration, logger, stores and completion client of one run
//   - chatREPL: interactive loop driving a session.Session
//
// # Commands
//
//   - chat (default): interactive streaming chat with slash commands
//   - ask: single non-streaming question
//   - facts: list, remove or clear saved facts
//   - history: list, show, search, export, remove or clear saved conversations
//   - config: show the effective configuration or write a default file
//
// # Usage
//
//	if err := cli.Execute(); err != nil {
//	    os.Exit(1)
//	}
package cli
