// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation data structures shared by the
// session, storage and command packages.
//
// # Key Types
//
//   - Role: turn author (system, user, assistant)
//   - Turn: one message; the in-flight assistant turn is the only one mutated
//   - Transcript: ordered turns of one conversation, keyed by a UUID
//
// # Usage
//
//	t := model.NewTranscript("Hi! I'm Nexus AI. Ask me anything.")
//	t.Append(model.NewTurn(model.RoleUser, "hello"))
package model
