// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the chat session state machine.
//
// A Session owns the active conversation and at most one in-flight turn. It
// builds the request, drives the completion stream, pipes the accumulated
// reply through the memory marker extractor and writes the visible text into
// the pending assistant slot. Stop, retry and conversation switches are
// reconciled under a single mutex so a late delta can never land in a
// conversation the user has left.
//
// # Key Types
//
//   - Session: the state machine
//   - State: immutable snapshot delivered to subscribers
//   - Slot: the conversation and turn index a stream may write to
//   - Notice: retryable failure notification
//
// # Usage
//
//	s, err := session.New(session.Config{
//	    Completer:   client,
//	    Store:       conversations,
//	    Facts:       facts,
//	    Preferences: prefs,
//	})
//	updates, cancel := s.Subscribe()
//	defer cancel()
//	s.Send("hello")
//
// # Turn Lifecycle
//
// Idle moves to Sending on Send. A turn ends Completed, Failed or
// Interrupted and the session returns to Idle. Stop passes through
// Cancelling while the transport is torn down.
package session
