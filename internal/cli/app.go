// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/nexus-chat/internal/cloud"
	"github.com/jeranaias/nexus-chat/internal/config"
	"github.com/jeranaias/nexus-chat/internal/session"
	"github.com/jeranaias/nexus-chat/internal/storage"
)

// App holds everything one CLI invocation works with.
type App struct {
	Config        *config.Config
	ConfigPath    string
	Logger        *zap.Logger
	Preferences   *config.Preferences
	Client        *cloud.Client
	Conversations *storage.ConversationStore
	Facts         *storage.FactStore
}

// NewApp opens the stores under the configured data directory and builds
// the completion client.
func NewApp(cfg *config.Config, configPath string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	convs, err := storage.NewConversationStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	convs.MaxConversations = cfg.Storage.MaxConversations
	convs.WithLogger(logger)

	facts, err := storage.NewFactStore(cfg.FactsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open fact store: %w", err)
	}
	facts.WithLogger(logger)

	c := cfg.Completion
	client := cloud.NewClient(c.APIKey).
		WithBaseURL(c.BaseURL).
		WithModel(c.Model).
		WithSampling(c.Temperature, c.TopP).
		WithMaxAttempts(c.MaxAttempts).
		WithRetryDelay(c.RetryDelay()).
		WithConnectTimeout(c.ConnectTimeout()).
		WithRateLimit(c.RequestsPerMinute).
		WithLogger(logger)

	logger.Debug("app initialized",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("model", c.Model),
		zap.String("key", client.KeyFingerprint()))

	return &App{
		Config:        cfg,
		ConfigPath:    configPath,
		Logger:        logger,
		Preferences:   config.NewPreferences(cfg.Memory),
		Client:        client,
		Conversations: convs,
		Facts:         facts,
	}, nil
}

// NewSession creates a chat session over the app's collaborators.
func (a *App) NewSession(resume bool) (*session.Session, error) {
	return session.New(session.Config{
		Completer:    a.Client,
		Store:        a.Conversations,
		Facts:        a.Facts,
		Preferences:  a.Preferences,
		Delimiters:   a.Config.Marker,
		ResumeLatest: resume,
		Logger:       a.Logger,
	})
}

// Close releases the fact database.
func (a *App) Close() error {
	var errs []error
	if a.Facts != nil {
		errs = append(errs, a.Facts.Close())
	}
	return errors.Join(errs...)
}
