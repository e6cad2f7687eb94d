// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Configuration file commands.
//
// Command: config [subcommand]
// Short:   Inspect or create the config file
//
// Subcommands:
//   show (default)    Print the effective configuration, key redacted
//   path              Print where the config file is read from
//   init              Write a default config file (--json, --force)

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/nexus-chat/internal/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	show := func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		source := opts.app.ConfigPath
		if source == "" {
			source = "(defaults)"
		}
		fmt.Fprintf(out, "%s %s\n", RenderConditional(DimStyle, "Source:"), source)
		fmt.Fprintf(out, "%s %s\n", RenderConditional(DimStyle, "API key:"), opts.app.Client.APIKeyMasked())
		fmt.Fprintln(out, opts.app.Config.String())
		return nil
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
		Args:  cobra.NoArgs,
		RunE:  show,
	}

	var asJSON, force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		// The file may not exist yet, so skip loading it.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.initPath(asJSON)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if opts.dataDir != "" {
				cfg.Storage.DataDir = opts.dataDir
			}
			if opts.model != "" {
				cfg.Completion.Model = opts.model
			}

			save := config.SaveTOML
			if asJSON {
				save = config.SaveJSON
			}
			if err := save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&asJSON, "json", false, "write JSON instead of TOML")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE:  show,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print where the config file is read from",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if opts.app.ConfigPath == "" {
					return fmt.Errorf("no config file found; run 'nexus config init'")
				}
				fmt.Fprintln(cmd.OutOrStdout(), opts.app.ConfigPath)
				return nil
			},
		},
		initCmd,
	)
	return cmd
}

// initPath picks the file config init writes: --config when given,
// otherwise the default TOML or JSON location.
func (o *rootOptions) initPath(asJSON bool) (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	if asJSON {
		return config.ConfigPathJSON()
	}
	return config.ConfigPath()
}
