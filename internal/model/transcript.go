// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxTurns bounds how many turns a transcript keeps. Older turns are pruned
// from the front, never the in-flight tail.
const MaxTurns = 1000

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is the ordered list of turns of one conversation.
type Transcript struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"messages"`
}

// NewTranscript creates an empty conversation with a fresh UUID. A non-empty
// greeting becomes the first assistant turn.
func NewTranscript(greeting string) Transcript {
	now := time.Now()
	t := Transcript{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     make([]Turn, 0, 8),
	}
	if greeting != "" {
		t.Turns = append(t.Turns, NewTurn(RoleAssistant, greeting))
	}
	return t
}

// Append adds a turn and returns its index.
func (t *Transcript) Append(turn Turn) int {
	t.Turns = append(t.Turns, turn)
	t.UpdatedAt = time.Now()
	return len(t.Turns) - 1
}

// HasContent reports whether any turn carries non-blank content. A
// transcript without content is not worth persisting.
func (t Transcript) HasContent() bool {
	for _, turn := range t.Turns {
		if !turn.IsBlank() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t Transcript) Clone() Transcript {
	c := t
	c.Turns = make([]Turn, len(t.Turns))
	copy(c.Turns, t.Turns)
	return c
}

// Persistable returns a copy with transient state stripped, as written to
// storage.
func (t Transcript) Persistable() Transcript {
	c := t.Clone()
	for i := range c.Turns {
		c.Turns[i].Thinking = false
		c.Turns[i].FactsNote = ""
	}
	return c
}

// Preview returns the first user turn, for listings.
func (t Transcript) Preview() string {
	for _, turn := range t.Turns {
		if turn.Role == RoleUser && !turn.IsBlank() {
			return turn.Content
		}
	}
	return ""
}

// Prune drops the oldest turns beyond MaxTurns. It returns how many turns
// were removed so callers can shift indexes they hold.
func (t *Transcript) Prune() int {
	excess := len(t.Turns) - MaxTurns
	if excess <= 0 {
		return 0
	}
	t.Turns = append(t.Turns[:0:0], t.Turns[excess:]...)
	return excess
}
