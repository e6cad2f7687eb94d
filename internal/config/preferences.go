// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces the burst of events an editor save produces.
var reloadDebounce = 100 * time.Millisecond

// =============================================================================
// PREFERENCES
// =============================================================================

// Preferences exposes the memory switches to the chat session. Reads are
// lock-free so the session can consult them on every turn.
type Preferences struct {
	factsEnabled atomic.Bool
	autoSave     atomic.Bool
}

// NewPreferences creates preferences initialized from m.
func NewPreferences(m MemoryConfig) *Preferences {
	p := &Preferences{}
	p.Set(m)
	return p
}

// FactsEnabled reports whether stored facts are injected into requests.
func (p *Preferences) FactsEnabled() bool {
	return p.factsEnabled.Load()
}

// AutoSaveEnabled reports whether newly found facts are persisted.
func (p *Preferences) AutoSaveEnabled() bool {
	return p.autoSave.Load()
}

// Set replaces both switches.
func (p *Preferences) Set(m MemoryConfig) {
	p.factsEnabled.Store(m.Enabled)
	p.autoSave.Store(m.AutoSave)
}

// Snapshot returns the current switches.
func (p *Preferences) Snapshot() MemoryConfig {
	return MemoryConfig{Enabled: p.FactsEnabled(), AutoSave: p.AutoSaveEnabled()}
}

// =============================================================================
// HOT RELOAD
// =============================================================================

// WatchPreferences reloads the [memory] section of the config file at path
// into prefs whenever the file changes. It blocks until ctx is done. The
// parent directory is watched so editors that replace the file by rename
// are followed. An unreadable file leaves prefs unchanged.
func WatchPreferences(ctx context.Context, path string, prefs *Preferences, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "config"))
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				reload = time.After(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))

		case <-reload:
			reload = nil
			reloadPreferences(path, prefs, logger)
		}
	}
}

func reloadPreferences(path string, prefs *Preferences, logger *zap.Logger) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		logger.Warn("keeping previous preferences", zap.Error(err))
		return
	}
	cfg.ApplyEnvOverrides()

	prev := prefs.Snapshot()
	prefs.Set(cfg.Memory)
	if prev != cfg.Memory {
		logger.Info("preferences reloaded",
			zap.Bool("facts_enabled", cfg.Memory.Enabled),
			zap.Bool("auto_save", cfg.Memory.AutoSave))
	}
}
