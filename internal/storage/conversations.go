// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/nexus-chat/internal/model"
	"github.com/jeranaias/nexus-chat/internal/util"
)

// DefaultMaxConversations is the number of conversations kept on disk.
const DefaultMaxConversations = 100

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
	Preview   string    `json:"preview"` // First user turn truncated
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore keeps one JSON file per conversation. It is safe for
// concurrent use.
type ConversationStore struct {
	// BaseDir is the directory for storing conversations
	// Default: <data_dir>/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int

	logger *zap.Logger
	mu     sync.Mutex
}

// NewConversationStore creates a store under dataDir/conversations.
func NewConversationStore(dataDir string) (*ConversationStore, error) {
	baseDir := filepath.Join(dataDir, "conversations")
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return &ConversationStore{
		BaseDir:          baseDir,
		MaxConversations: DefaultMaxConversations,
		logger:           zap.NewNop(),
	}, nil
}

// WithLogger sets the logger.
func (s *ConversationStore) WithLogger(logger *zap.Logger) *ConversationStore {
	if logger != nil {
		s.logger = logger.With(zap.String("component", "conversations"))
	}
	return s
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// UpsertConversation writes the transcript's persistable form. A transcript
// without any content is removed instead.
func (s *ConversationStore) UpsertConversation(t model.Transcript) error {
	if err := validateID(t.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.HasContent() {
		if err := s.deleteLocked(t.ID); err != nil && !errors.Is(err, ErrConversationNotFound) {
			return err
		}
		return nil
	}

	p := t.Persistable()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(p.ID), data, 0o600); err != nil {
		return fmt.Errorf("failed to write conversation: %w", err)
	}

	if s.MaxConversations > 0 {
		s.enforceLimitLocked()
	}
	return nil
}

// enforceLimitLocked removes the least recently updated conversations
// beyond MaxConversations. Zero means unlimited.
func (s *ConversationStore) enforceLimitLocked() {
	if s.MaxConversations <= 0 {
		return
	}
	metas, err := s.listLocked()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	// listLocked sorts most recent first
	for _, m := range metas[s.MaxConversations:] {
		if err := s.deleteLocked(m.ID); err != nil {
			s.logger.Warn("failed to prune conversation", zap.String("id", m.ID), zap.Error(err))
		}
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *ConversationStore) Load(id string) (model.Transcript, error) {
	if err := validateID(id); err != nil {
		return model.Transcript{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *ConversationStore) loadLocked(id string) (model.Transcript, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Transcript{}, ErrConversationNotFound
		}
		return model.Transcript{}, err
	}

	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return model.Transcript{}, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	if t.ID == "" {
		t.ID = id
	}
	return t, nil
}

// LoadConversations returns every stored transcript, most recently updated
// first. Unreadable files are skipped.
func (s *ConversationStore) LoadConversations() ([]model.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.idsLocked()
	if err != nil {
		return nil, err
	}

	out := make([]model.Transcript, 0, len(ids))
	for _, id := range ids {
		t, err := s.loadLocked(id)
		if err != nil {
			s.logger.Warn("skipping unreadable conversation", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns metadata for all saved conversations (most recent first).
func (s *ConversationStore) List() ([]ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *ConversationStore) listLocked() ([]ConversationMeta, error) {
	ids, err := s.idsLocked()
	if err != nil {
		return nil, err
	}

	metas := make([]ConversationMeta, 0, len(ids))
	for _, id := range ids {
		t, err := s.loadLocked(id)
		if err != nil {
			continue // Skip corrupted files
		}
		metas = append(metas, metaOf(t))
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Search returns conversations where any turn contains query
// (case-insensitive). An empty query lists everything.
func (s *ConversationStore) Search(query string) ([]ConversationMeta, error) {
	all, err := s.LoadConversations()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	var results []ConversationMeta
	for _, t := range all {
		if query == "" {
			results = append(results, metaOf(t))
			continue
		}
		for _, turn := range t.Turns {
			if strings.Contains(strings.ToLower(turn.Content), query) {
				results = append(results, metaOf(t))
				break // Found a match, move to next conversation
			}
		}
	}
	return results, nil
}

func metaOf(t model.Transcript) ConversationMeta {
	return ConversationMeta{
		ID:        t.ID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		TurnCount: len(t.Turns),
		Preview:   util.TruncateRunes(util.OneLine(t.Preview()), 80),
	}
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// DeleteConversation removes a conversation by ID.
func (s *ConversationStore) DeleteConversation(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *ConversationStore) deleteLocked(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// ClearAllConversations removes all saved conversations.
func (s *ConversationStore) ClearAllConversations() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.idsLocked()
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := s.deleteLocked(id); err != nil && !errors.Is(err, ErrConversationNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// idsLocked lists the IDs of the stored conversation files.
func (s *ConversationStore) idsLocked() ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return ids, nil
}

// filePath returns the file path for a conversation ID.
func (s *ConversationStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// validateID rejects IDs that are not UUIDs.
// SECURITY: IDs become file names, so anything else could escape BaseDir.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ConversationError{Message: "invalid conversation id"}
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatConversationList formats conversations as a numbered table. Numbers
// start at 1 and follow the order of metas.
func FormatConversationList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-4s %-16s %-6s %s\n", "#", "Updated", "Turns", "Preview"))
	for i, m := range metas {
		preview := m.Preview
		if preview == "" {
			preview = "(no messages)"
		}
		sb.WriteString(fmt.Sprintf("%-4d %-16s %-6d %s\n",
			i+1,
			m.UpdatedAt.Local().Format("2006-01-02 15:04"),
			m.TurnCount,
			util.TruncateRunes(preview, 50)))
	}
	return sb.String()
}
