// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations and long-term facts.
//
// Conversations are stored one JSON file per transcript under
// <data_dir>/conversations, written atomically. Facts live in a small
// SQLite database (<data_dir>/facts.db) through the pure-Go
// modernc.org/sqlite driver.
//
// # Key Types
//
//   - ConversationStore: transcript files, pruned to MaxConversations
//   - ConversationMeta: listing row (preview, turn count, timestamps)
//   - FactStore: newest-first fact list with case-insensitive dedup
//
// # Usage
//
//	convs, err := storage.NewConversationStore(dataDir)
//	facts, err := storage.NewFactStore(filepath.Join(dataDir, "facts.db"))
//	defer facts.Close()
//
//	_ = convs.UpsertConversation(transcript)
//	_ = facts.AddFact(ctx, "User likes green tea")
package storage
