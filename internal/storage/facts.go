// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/nexus-chat/internal/util"
)

// Fact store limits.
const (
	// MaxFacts is how many facts are kept; the oldest fall off first.
	MaxFacts = 60

	// MaxFactRunes is the longest fact stored, in runes.
	MaxFactRunes = 240
)

// factSchema holds one row per fact. fold_key is the case-folded text so a
// re-learned fact replaces its older spelling.
const factSchema = `
CREATE TABLE IF NOT EXISTS facts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	text       TEXT    NOT NULL,
	fold_key   TEXT    NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
`

// =============================================================================
// FACT STORE
// =============================================================================

// FactStore persists long-term facts in SQLite, newest first.
type FactStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewFactStore opens (or creates) the fact database at path.
func NewFactStore(path string) (*FactStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(factSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &FactStore{db: db, path: path, logger: zap.NewNop()}, nil
}

// WithLogger sets the logger.
func (s *FactStore) WithLogger(logger *zap.Logger) *FactStore {
	if logger != nil {
		s.logger = logger.With(zap.String("component", "facts"))
	}
	return s
}

// Path returns the database file path.
func (s *FactStore) Path() string {
	return s.path
}

// NormalizeFact prepares text for storage: newlines become spaces, the
// result is trimmed and clipped to MaxFactRunes.
func NormalizeFact(text string) string {
	return strings.TrimSpace(util.ClipRunes(strings.TrimSpace(util.OneLine(text)), MaxFactRunes))
}

// LoadFacts returns all facts, newest first.
func (s *FactStore) LoadFacts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text FROM facts ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	facts := make([]string, 0, MaxFacts)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, text)
	}
	return facts, rows.Err()
}

// AddFact stores text as the newest fact. A case-insensitive duplicate is
// replaced and the store is trimmed to MaxFacts. Blank text is ignored.
func (s *FactStore) AddFact(ctx context.Context, text string) error {
	fact := NormalizeFact(text)
	if fact == "" {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	key := util.FoldKey(fact)
	if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE fold_key = ?`, key); err != nil {
		return fmt.Errorf("failed to replace fact: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO facts (text, fold_key, created_at) VALUES (?, ?, ?)`,
		fact, key, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM facts WHERE id NOT IN (SELECT id FROM facts ORDER BY id DESC LIMIT ?)`,
		MaxFacts); err != nil {
		return fmt.Errorf("failed to trim facts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fact: %w", err)
	}
	s.logger.Debug("fact saved", zap.Int("runes", len([]rune(fact))))
	return nil
}

// RemoveFactAt deletes the fact at index in LoadFacts order. An index out
// of range is a no-op.
func (s *FactStore) RemoveFactAt(ctx context.Context, index int) error {
	if index < 0 {
		return nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM facts ORDER BY id DESC LIMIT 1 OFFSET ?`, index).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find fact: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete fact: %w", err)
	}
	return nil
}

// ClearFacts deletes every fact.
func (s *FactStore) ClearFacts(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts`); err != nil {
		return fmt.Errorf("failed to clear facts: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *FactStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
