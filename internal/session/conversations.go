// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"

	"github.com/jeranaias/nexus-chat/internal/model"
	"github.com/jeranaias/nexus-chat/internal/storage"
)

// =============================================================================
// CONVERSATION SWITCHING
// =============================================================================
//
// Every operation here stops the in-flight turn before touching the active
// conversation.

// Conversations returns the stored conversations, most recent first.
func (s *Session) Conversations() ([]model.Transcript, error) {
	return s.store.LoadConversations()
}

// NewConversation replaces the active conversation with a fresh one. The
// new conversation is stored once its first turn ends.
func (s *Session) NewConversation() {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.startFreshLocked()
}

// LoadConversation makes the stored conversation id the active one.
func (s *Session) LoadConversation(id string) error {
	s.Stop()

	convs, err := s.store.LoadConversations()
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	for _, c := range convs {
		if c.ID == id {
			s.active = s.openable(c)
			s.outcome = OutcomeNone
			s.publishLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
}

// DeleteConversation removes a stored conversation. Deleting the active
// conversation starts a new one.
func (s *Session) DeleteConversation(id string) error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	err := s.store.DeleteConversation(id)
	if id == s.active.ID {
		// The active conversation may never have been stored.
		if errors.Is(err, storage.ErrConversationNotFound) {
			err = nil
		}
		s.startFreshLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// ClearAll removes every stored conversation and starts a new one.
func (s *Session) ClearAll() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	err := s.store.ClearAllConversations()
	s.startFreshLocked()
	if err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}
	return nil
}

func (s *Session) startFreshLocked() {
	s.active = model.NewTranscript(s.strings.Greeting)
	s.outcome = OutcomeNone
	s.notice = nil
	s.publishLocked()
}
