// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Saved conversation commands.
//
// Command: history [subcommand]
// Short:   Browse saved conversations
//
// Subcommands:
//   list (default)    List conversations, most recent first
//   show <n|id>       Print a conversation
//   search <query>    Find conversations containing query
//   export <n|id>     Write a conversation to a Markdown or JSON file
//   rm <n|id>         Delete a conversation
//   clear             Delete every conversation

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/nexus-chat/internal/export"
	"github.com/jeranaias/nexus-chat/internal/model"
	"github.com/jeranaias/nexus-chat/internal/storage"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	list := func(cmd *cobra.Command, args []string) error {
		metas, err := opts.app.Conversations.List()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(storage.FormatConversationList(metas), "\n"))
		return nil
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse saved conversations",
		Args:  cobra.NoArgs,
		RunE:  list,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, most recent first",
			Args:  cobra.NoArgs,
			RunE:  list,
		},
		&cobra.Command{
			Use:   "show <n|id>",
			Short: "Print a saved conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := lookupConversation(opts.app.Conversations, args[0])
				if err != nil {
					return err
				}
				t, err := opts.app.Conversations.Load(id)
				if err != nil {
					return err
				}
				writeTranscript(cmd.OutOrStdout(), t)
				return nil
			},
		},
		&cobra.Command{
			Use:   "search <query>",
			Short: "Find conversations containing text",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				metas, err := opts.app.Conversations.Search(strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(storage.FormatConversationList(metas), "\n"))
				return nil
			},
		},
		newHistoryExportCommand(opts),
		&cobra.Command{
			Use:     "rm <n|id>",
			Aliases: []string{"delete"},
			Short:   "Delete a saved conversation",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := lookupConversation(opts.app.Conversations, args[0])
				if err != nil {
					return err
				}
				if err := opts.app.Conversations.DeleteConversation(id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), RenderConditional(SuccessStyle, "Conversation deleted."))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every saved conversation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := opts.app.Conversations.ClearAllConversations(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), RenderConditional(SuccessStyle, "All conversations deleted."))
				return nil
			},
		},
	)
	return cmd
}

func newHistoryExportCommand(opts *rootOptions) *cobra.Command {
	var (
		format    string
		outputDir string
		plain     bool
	)
	cmd := &cobra.Command{
		Use:   "export <n|id>",
		Short: "Write a saved conversation to a Markdown or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := lookupConversation(opts.app.Conversations, args[0])
			if err != nil {
				return err
			}
			t, err := opts.app.Conversations.Load(id)
			if err != nil {
				return err
			}

			exportOpts := export.DefaultOptions()
			exportOpts.OutputDir = outputDir
			exportOpts.IncludeMetadata = !plain
			exportOpts.IncludeTimestamps = !plain

			exporter, err := export.ForFormat(format, exportOpts)
			if err != nil {
				return err
			}
			path, err := export.ToFile(t, exporter, exportOpts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "output format: md or json")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "directory to write the file to")
	cmd.Flags().BoolVar(&plain, "plain", false, "omit metadata and timestamps")
	return cmd
}

// lookupConversation resolves a list number (as shown by history list) or
// a conversation id.
func lookupConversation(store *storage.ConversationStore, ref string) (string, error) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return ref, nil
	}
	metas, err := store.List()
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(metas) {
		return "", fmt.Errorf("no conversation #%d", n)
	}
	return metas[n-1].ID, nil
}

// writeTranscript prints a conversation without styling.
func writeTranscript(w io.Writer, t model.Transcript) {
	fmt.Fprintf(w, "Conversation %s (%s)\n", t.ID, t.CreatedAt.Local().Format("2006-01-02 15:04"))
	for _, turn := range t.Turns {
		fmt.Fprintf(w, "\n%s: %s\n", turn.Role.DisplayName(), turn.Content)
	}
}
