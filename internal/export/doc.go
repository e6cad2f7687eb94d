// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes saved conversations to portable files.
//
// # Key Types
//
//   - Exporter: Converts a transcript to one output format
//   - MarkdownExporter: Human-readable export with optional metadata
//   - JSONExporter: The stored transcript, indented
//   - Options: Output directory and metadata switches
//
// # Usage
//
//	exporter, err := export.ForFormat("md", export.DefaultOptions())
//	path, err := export.ToFile(transcript, exporter, opts)
package export
