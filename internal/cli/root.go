// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/nexus-chat/internal/config"
	"github.com/jeranaias/nexus-chat/internal/logging"
)

// Version is set at build time.
var Version = "dev"

// rootOptions holds global flags and the App built from them.
type rootOptions struct {
	configPath string
	dataDir    string
	model      string
	verbose    bool

	app *App
}

// Execute runs the nexus command line.
func Execute() error {
	cmd, cleanup := NewRootCommand()
	defer cleanup()
	return cmd.Execute()
}

// NewRootCommand builds the command tree. The returned cleanup releases
// whatever the chosen command opened.
func NewRootCommand() (*cobra.Command, func()) {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "nexus",
		Short: "Streaming chat client with long-term memory",
		Long: `nexus chats with a hosted completion model, streaming replies as they
arrive. Facts the model marks for saving, and personal details you mention,
are remembered across conversations.

Run without arguments to start an interactive chat.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.app != nil {
				_ = opts.app.Logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, false)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.nexus/config.toml)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory for conversations and facts")
	flags.StringVarP(&opts.model, "model", "m", "", "completion model")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newChatCommand(opts),
		newAskCommand(opts),
		newFactsCommand(opts),
		newHistoryCommand(opts),
		newConfigCommand(opts),
	)

	cleanup := func() {
		if opts.app != nil {
			if err := opts.app.Close(); err != nil {
				opts.app.Logger.Warn("failed to close stores", zap.Error(err))
			}
			opts.app = nil
		}
	}
	return root, cleanup
}

// setup loads .env and the config, applies flag overrides, then builds the
// logger and App.
func (o *rootOptions) setup() error {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg, path, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	if o.model != "" {
		cfg.Completion.Model = o.model
	}

	level := cfg.Logging.Level
	if o.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := NewApp(cfg, path, logger)
	if err != nil {
		return err
	}
	o.app = app
	return nil
}

// loadConfig loads an explicit config file or the default locations. It
// also returns the path worth watching for preference changes.
func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.LoadFromPath(explicit)
		return cfg, explicit, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	path, _ := config.ConfigPath()
	if _, statErr := os.Stat(path); statErr != nil {
		path = ""
	}
	return cfg, path, nil
}
