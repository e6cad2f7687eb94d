// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for nexus.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $NEXUS_CONFIG
//   - ~/.nexus/config.toml
//   - ~/.nexus/config.json
//   - Built-in defaults
//
// # Key Types
//
//   - Config: completion, memory, marker, storage and logging sections
//   - Preferences: live memory switches read by the chat session
//   - ValidateErrors: every validation problem found in one pass
//
// # Usage
//
//	cfg, err := config.Load()
//	prefs := config.NewPreferences(cfg.Memory)
//	go config.WatchPreferences(ctx, path, prefs, logger)
package config
