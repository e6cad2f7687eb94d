// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTranscript(t *testing.T) {
	tr := NewTranscript("Hi!")

	_, err := uuid.Parse(tr.ID)
	require.NoError(t, err, "transcript ID should be a UUID")
	require.Len(t, tr.Turns, 1)
	assert.Equal(t, RoleAssistant, tr.Turns[0].Role)
	assert.Equal(t, "Hi!", tr.Turns[0].Content)

	empty := NewTranscript("")
	assert.Empty(t, empty.Turns)
	assert.NotEqual(t, tr.ID, empty.ID)
}

func TestTranscript_HasContent(t *testing.T) {
	tr := NewTranscript("")
	assert.False(t, tr.HasContent())

	tr.Append(NewPlaceholder())
	assert.False(t, tr.HasContent(), "empty placeholder is not content")

	tr.Append(NewTurn(RoleUser, "  \n"))
	assert.False(t, tr.HasContent())

	tr.Append(NewTurn(RoleUser, "hello"))
	assert.True(t, tr.HasContent())
}

func TestTranscript_CloneIsDeep(t *testing.T) {
	tr := NewTranscript("Hi!")
	c := tr.Clone()
	c.Turns[0].Content = "changed"

	assert.Equal(t, "Hi!", tr.Turns[0].Content)
}

func TestTranscript_Persistable(t *testing.T) {
	tr := NewTranscript("")
	idx := tr.Append(NewPlaceholder())
	tr.Turns[idx].FactsNote = "User is 30 years old."

	p := tr.Persistable()
	assert.False(t, p.Turns[idx].Thinking)
	assert.Empty(t, p.Turns[idx].FactsNote)
	assert.True(t, tr.Turns[idx].Thinking, "original must be untouched")
}

func TestTranscript_Prune(t *testing.T) {
	tr := NewTranscript("")
	for i := 0; i < MaxTurns+5; i++ {
		tr.Append(NewTurn(RoleUser, "x"))
	}

	removed := tr.Prune()
	assert.Equal(t, 5, removed)
	assert.Len(t, tr.Turns, MaxTurns)
	assert.Equal(t, 0, tr.Prune())
}

func TestRole(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("tool").Valid())
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "assistant", RoleAssistant.String())
}
