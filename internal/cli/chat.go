// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for the nexus CLI.
//
// Command: chat (also the default when nexus runs without arguments)
//
// Examples:
//   nexus                       Start a new conversation
//   nexus chat --resume         Continue the most recent conversation
//   nexus -m mistral chat       Use a specific model
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new                Start a new conversation
//   /history            List saved conversations
//   /open <n>           Open conversation n from /history
//   /delete <n>         Delete conversation n
//   /clear              Delete all conversations
//   /retry              Resend the last message
//   /facts              Show saved facts
//   /forget <n>         Remove saved fact n
//   /quit, /q           Exit chat
//   Ctrl+C              Stop the current reply (at the prompt: exit)
//   Ctrl+D              Exit chat

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/nexus-chat/internal/config"
	"github.com/jeranaias/nexus-chat/internal/model"
	"github.com/jeranaias/nexus-chat/internal/session"
	"github.com/jeranaias/nexus-chat/internal/storage"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in dataDir.
func NewChatCLI(dataDir string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dataDir, "input_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// lineReader reads chat input one line at a time.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// newLineReader uses liner when reading a terminal and a plain scanner for
// anything else, such as piped input.
func newLineReader(in io.Reader, out io.Writer, dataDir string) lineReader {
	if in == os.Stdin && IsTTY() {
		return NewChatCLI(dataDir)
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanReader{scanner: scanner, out: out}
}

// scanReader reads lines without line editing or history.
type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// ReadInput prints prompt and returns the next line, or io.EOF.
func (r *scanReader) ReadInput(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close is a no-op.
func (r *scanReader) Close() {}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(opts *rootOptions) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, resume)
		},
	}
	cmd.Flags().BoolVarP(&resume, "resume", "r", false, "continue the most recent conversation")
	return cmd
}

func runChat(cmd *cobra.Command, opts *rootOptions, resume bool) error {
	app := opts.app
	out := cmd.OutOrStdout()

	sess, err := app.NewSession(resume)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if app.ConfigPath != "" {
		go func() {
			if err := config.WatchPreferences(ctx, app.ConfigPath, app.Preferences, app.Logger); err != nil {
				app.Logger.Warn("preference reload disabled", zap.Error(err))
			}
		}()
	}

	// First Ctrl+C during a reply stops it; at the prompt liner aborts.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigChan:
				if sess.Stop() {
					fmt.Fprintln(os.Stderr, "\n"+RenderConditional(WarningStyle, "[Stopped]"))
				}
			}
		}
	}()

	repl := newChatREPL(app, sess, out)
	defer repl.close()

	input := newLineReader(cmd.InOrStdin(), out, app.Config.Storage.DataDir)
	defer input.Close()

	repl.printWelcome()
	for {
		line, err := input.ReadInput(RenderConditional(PromptStyle, "you> "))
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C), io.EOF (Ctrl+D) or a dead terminal
			fmt.Fprintln(out)
			fmt.Fprintln(out, RenderConditional(DimStyle, "Goodbye!"))
			return nil
		}

		cont, err := repl.handleLine(line)
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", RenderConditional(ErrorStyle, "[Error]"), err)
		}
		if !cont {
			fmt.Fprintln(out, RenderConditional(DimStyle, "Goodbye!"))
			return nil
		}
	}
}

// =============================================================================
// REPL
// =============================================================================

// chatREPL renders a session to a writer and interprets user lines.
type chatREPL struct {
	app         *App
	sess        *session.Session
	out         io.Writer
	updates     <-chan session.State
	unsubscribe func()

	// listed is the most recent /history listing, for numeric references.
	listed []storage.ConversationMeta
}

func newChatREPL(app *App, sess *session.Session, out io.Writer) *chatREPL {
	updates, unsubscribe := sess.Subscribe()
	<-updates // current state
	return &chatREPL{
		app:         app,
		sess:        sess,
		out:         out,
		updates:     updates,
		unsubscribe: unsubscribe,
	}
}

func (r *chatREPL) close() {
	r.unsubscribe()
}

// handleLine processes one line of input. It returns false to exit.
func (r *chatREPL) handleLine(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return true, nil
	}
	if strings.HasPrefix(line, "/") {
		return r.handleSlashCommand(line)
	}
	if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
		return false, nil
	}
	if !r.sess.Send(line) {
		fmt.Fprintln(r.out, RenderConditional(DimStyle, "[A reply is still in progress]"))
		return true, nil
	}
	r.follow()
	return true, nil
}

// follow prints the streaming reply until the session is idle again.
func (r *chatREPL) follow() {
	fmt.Fprint(r.out, RenderConditional(AssistantStyle, "nexus> "))

	printed := ""
	for st := range r.updates {
		if len(st.Conversation.Turns) == 0 {
			continue
		}
		reply := st.Conversation.Turns[len(st.Conversation.Turns)-1]

		// The visible text normally only grows; a replaced reply (error,
		// interruption) is printed on its own line.
		if tail, ok := strings.CutPrefix(reply.Content, printed); ok {
			fmt.Fprint(r.out, tail)
		} else {
			fmt.Fprint(r.out, "\n"+reply.Content)
		}
		printed = reply.Content

		if st.Phase == session.PhaseIdle {
			r.finishTurn(reply)
			return
		}
	}
}

func (r *chatREPL) finishTurn(reply model.Turn) {
	fmt.Fprintln(r.out)
	if reply.FactsNote != "" {
		fmt.Fprintf(r.out, "%s %s\n", RenderConditional(SuccessStyle, "[Saved]"), reply.FactsNote)
	}
	if n := r.sess.ConsumeNotice(); n != nil {
		fmt.Fprintf(r.out, "%s %s\n",
			RenderConditional(WarningStyle, n.Message),
			RenderConditional(DimStyle, fmt.Sprintf("(/retry to %s)", strings.ToLower(n.ActionLabel))))
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func (r *chatREPL) handleSlashCommand(line string) (bool, error) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()

	case "/quit", "/q", "/exit":
		return false, nil

	case "/new", "/n":
		r.sess.NewConversation()
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[New conversation]"))
		r.printTranscript(r.sess.Snapshot().Conversation)

	case "/history":
		metas, err := r.app.Conversations.List()
		if err != nil {
			return true, err
		}
		r.listed = metas
		fmt.Fprintln(r.out, strings.TrimRight(storage.FormatConversationList(metas), "\n"))

	case "/open", "/o":
		id, err := r.resolveConversation(args)
		if err != nil {
			return true, err
		}
		if err := r.sess.LoadConversation(id); err != nil {
			return true, err
		}
		r.printTranscript(r.sess.Snapshot().Conversation)

	case "/delete", "/rm":
		id, err := r.resolveConversation(args)
		if err != nil {
			return true, err
		}
		if err := r.sess.DeleteConversation(id); err != nil {
			return true, err
		}
		r.listed = nil
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[Conversation deleted]"))

	case "/clear", "/c":
		if err := r.sess.ClearAll(); err != nil {
			return true, err
		}
		r.listed = nil
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[All conversations deleted]"))

	case "/retry", "/r":
		if !r.sess.Retry() {
			fmt.Fprintln(r.out, RenderConditional(DimStyle, "[Nothing to retry]"))
			return true, nil
		}
		r.follow()

	case "/facts", "/f":
		facts, err := r.app.Facts.LoadFacts(context.Background())
		if err != nil {
			return true, err
		}
		printFacts(r.out, facts)

	case "/forget":
		index, err := parseIndex(args)
		if err != nil {
			return true, err
		}
		if err := r.app.Facts.RemoveFactAt(context.Background(), index); err != nil {
			return true, err
		}
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[Fact removed]"))

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

// resolveConversation maps a /history number, or a raw id, to an id.
func (r *chatREPL) resolveConversation(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected one conversation number (see /history)")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return args[0], nil
	}
	if r.listed == nil {
		if r.listed, err = r.app.Conversations.List(); err != nil {
			return "", err
		}
	}
	if n < 1 || n > len(r.listed) {
		return "", fmt.Errorf("no conversation #%d (see /history)", n)
	}
	return r.listed[n-1].ID, nil
}

// parseIndex converts a 1-based argument to a 0-based index.
func parseIndex(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one number")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid number: %q", args[0])
	}
	return n - 1, nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (r *chatREPL) printWelcome() {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, RenderConditional(TitleStyle, "nexus interactive chat"))
	fmt.Fprintln(r.out, RenderSeparator())
	fmt.Fprintf(r.out, "%s %s\n", RenderConditional(DimStyle, "Model:"), r.app.Client.Model())
	memory := "off"
	if r.app.Preferences.FactsEnabled() {
		memory = "on"
	}
	fmt.Fprintf(r.out, "%s %s\n", RenderConditional(DimStyle, "Memory:"), memory)
	fmt.Fprintln(r.out, RenderConditional(DimStyle, "Type /help for commands, Ctrl+C stops a reply, Ctrl+D exits"))
	fmt.Fprintln(r.out)
	r.printTranscript(r.sess.Snapshot().Conversation)
}

func (r *chatREPL) printHelp() {
	fmt.Fprintln(r.out, RenderConditional(TitleStyle, "Commands"))
	for _, c := range [][2]string{
		{"/new", "Start a new conversation"},
		{"/history", "List saved conversations"},
		{"/open <n>", "Open conversation n"},
		{"/delete <n>", "Delete conversation n"},
		{"/clear", "Delete all conversations"},
		{"/retry", "Resend the last message"},
		{"/facts", "Show saved facts"},
		{"/forget <n>", "Remove saved fact n"},
		{"/quit", "Exit chat"},
	} {
		fmt.Fprintf(r.out, "  %-14s %s\n", c[0], RenderConditional(DimStyle, c[1]))
	}
}

// printTranscript prints every turn of a conversation.
func (r *chatREPL) printTranscript(t model.Transcript) {
	width := GetTerminalWidth() - 2
	for _, turn := range t.Turns {
		label := "nexus> "
		style := AssistantStyle
		if turn.Role == model.RoleUser {
			label = "you> "
			style = PromptStyle
		}
		fmt.Fprintf(r.out, "%s%s\n", RenderConditional(style, label), WrapText(turn.Content, width))
	}
}

// printFacts prints facts as a numbered list, newest first.
func printFacts(w io.Writer, facts []string) {
	if len(facts) == 0 {
		fmt.Fprintln(w, "No saved facts.")
		return
	}
	for i, f := range facts {
		fmt.Fprintf(w, "%3d. %s\n", i+1, f)
	}
}
