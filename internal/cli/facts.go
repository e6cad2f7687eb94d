// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// facts.go - Saved fact management commands.
//
// Command: facts [subcommand]
// Short:   Manage remembered facts
//
// Subcommands:
//   list (default)    Show saved facts, newest first
//   rm <n>            Remove fact n
//   clear             Remove every fact

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFactsCommand(opts *rootOptions) *cobra.Command {
	list := func(cmd *cobra.Command, args []string) error {
		facts, err := opts.app.Facts.LoadFacts(cmd.Context())
		if err != nil {
			return err
		}
		printFacts(cmd.OutOrStdout(), facts)
		return nil
	}

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Manage remembered facts",
		Args:  cobra.NoArgs,
		RunE:  list,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show saved facts, newest first",
			Args:  cobra.NoArgs,
			RunE:  list,
		},
		&cobra.Command{
			Use:     "rm <n>",
			Aliases: []string{"remove"},
			Short:   "Remove a saved fact by its number",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				index, err := parseIndex(args)
				if err != nil {
					return err
				}
				if err := opts.app.Facts.RemoveFactAt(cmd.Context(), index); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), RenderConditional(SuccessStyle, "Fact removed."))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every saved fact",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := opts.app.Facts.ClearFacts(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), RenderConditional(SuccessStyle, "All facts removed."))
				return nil
			},
		},
	)
	return cmd
}
