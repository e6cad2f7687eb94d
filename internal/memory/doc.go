// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory extracts long-term facts from chat text.
//
// The remote model can ask the client to remember something by embedding a
// marker in its own reply, for example:
//
//	Nice to meet you! <<MEMORY_SAVE: User likes green tea>>
//
// The Extractor removes every complete marker from the accumulated reply,
// returns the sanitized payloads as facts, and hides a marker that is still
// being streamed so it never reaches the screen. It is pure and stateless:
// callers run it on the whole accumulated buffer after every delta.
//
// ExtractPersonal is the second, independent source of facts. It scans the
// user's own message for stable personal details (age, birthday, home town)
// with fixed pattern rules.
//
// # Key Types
//
//   - Delimiters: the marker grammar (open token, keyword, close token)
//   - Extractor: two-phase parse (complete-marker removal, then partial-tail
//     suppression)
//   - Result: visible text plus extracted facts
//   - PersonalRule: one pattern rule for user-text facts
package memory
