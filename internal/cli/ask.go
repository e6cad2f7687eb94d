// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Command: ask [question...]
//
// Examples:
//   nexus ask "What is the capital of France?"
//   nexus ask explain goroutines briefly
//
// The reply is printed once complete. Nothing is saved.

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/nexus-chat/internal/cloud"
	"github.com/jeranaias/nexus-chat/internal/session"
)

func newAskCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question without starting a chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question is empty")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reply, err := opts.app.Client.Complete(ctx, []cloud.ChatMessage{
				cloud.NewSystemMessage(session.DefaultStrings().SystemPrompt),
				cloud.NewUserMessage(question),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}
