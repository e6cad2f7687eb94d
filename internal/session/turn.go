// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/nexus-chat/internal/cloud"
	"github.com/jeranaias/nexus-chat/internal/memory"
	"github.com/jeranaias/nexus-chat/internal/model"
)

// pendingTurn is the state of one in-flight reply.
type pendingTurn struct {
	seq     uint64
	slot    Slot
	text    string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	// acc is written only by the stream goroutine.
	acc strings.Builder
}

// =============================================================================
// SEND
// =============================================================================

// Send starts a turn for text. It returns false when text is blank, a turn
// is already in flight or the session is closed.
func (s *Session) Send(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	if s.closed || s.phase != PhaseIdle {
		s.mu.Unlock()
		return false
	}

	s.lastSent = text
	s.active.Append(model.NewTurn(model.RoleUser, text))
	index := s.active.Append(model.NewPlaceholder())
	index -= s.active.Prune()

	// Everything before the placeholder goes into the request.
	history := make([]model.Turn, index)
	copy(history, s.active.Turns[:index])

	ctx, cancel := context.WithCancel(context.Background())
	s.turnSeq++
	turn := &pendingTurn{
		seq:     s.turnSeq,
		slot:    Slot{ConversationID: s.active.ID, Index: index},
		text:    text,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.turn = turn
	s.phase = PhaseSending

	factsOn := s.factsOn()
	var personal []string
	if s.autoSaveOn() {
		personal = memory.ExtractPersonal(text)
	}

	s.publishLocked()
	s.mu.Unlock()

	s.logger.Debug("turn started",
		zap.Uint64("turn", turn.seq),
		zap.String("conversation", turn.slot.ConversationID))

	go s.runTurn(ctx, turn, history, factsOn, personal)
	return true
}

// runTurn drives one turn on its own goroutine.
func (s *Session) runTurn(ctx context.Context, turn *pendingTurn, history []model.Turn, factsOn bool, personal []string) {
	defer close(turn.done)
	defer turn.cancel()

	// Personal facts go in first so the request already carries them.
	s.saveFacts(personal)

	messages := s.buildRequest(ctx, history, factsOn)
	err := s.completer.Stream(ctx, messages, func(delta string) {
		s.applyDelta(turn, delta)
	})
	if err != nil {
		s.failTurn(turn, err)
		return
	}
	s.completeTurn(turn, personal)
}

// buildRequest assembles the system prompt, the memory instruction and
// stored facts when enabled, then the conversation so far. System and
// blank turns are skipped.
func (s *Session) buildRequest(ctx context.Context, history []model.Turn, factsOn bool) []cloud.ChatMessage {
	system := s.strings.SystemPrompt
	if factsOn {
		system += "\n\n" + fmt.Sprintf(s.strings.MemoryInstruction, s.extractor.Delimiters().Instruction())
	}
	messages := make([]cloud.ChatMessage, 0, len(history)+2)
	messages = append(messages, cloud.NewSystemMessage(system))

	if factsOn {
		facts, err := s.facts.LoadFacts(ctx)
		if err != nil {
			s.logger.Warn("failed to load facts", zap.Error(err))
		}
		if len(facts) > 0 {
			messages = append(messages, cloud.NewSystemMessage(
				s.strings.MemoryContextHeader+"\n- "+strings.Join(facts, "\n- ")))
		}
	}

	for _, t := range history {
		if t.Role == model.RoleSystem || t.IsBlank() {
			continue
		}
		messages = append(messages, cloud.ChatMessage{Role: t.Role.String(), Content: t.Content})
	}
	return messages
}

// =============================================================================
// STREAM EVENTS
// =============================================================================

// applyDelta appends delta to the accumulator and rewrites the slot with the
// visible text. Deltas for a turn that is no longer current are dropped.
func (s *Session) applyDelta(turn *pendingTurn, delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turn != turn {
		s.logger.Debug("dropping delta for finished turn", zap.Uint64("turn", turn.seq))
		return
	}
	turn.acc.WriteString(delta)
	visible := s.extractor.ExtractPartial(turn.acc.String()).Visible
	if s.writeSlotLocked(turn.slot, visible, true, "") {
		s.publishLocked()
	}
}

// completeTurn finalizes a turn whose stream ended normally. A turn that
// was stopped first saves nothing.
func (s *Session) completeTurn(turn *pendingTurn, personal []string) {
	s.mu.Lock()
	if s.turn != turn {
		s.mu.Unlock()
		return
	}
	// The stream is over; detaching the turn leaves a late Stop nothing to
	// interrupt while facts are written.
	s.turn = nil
	result := s.extractor.Extract(turn.acc.String())
	autoSave := s.autoSaveOn()
	s.mu.Unlock()

	var saved []string
	if autoSave {
		s.saveFacts(result.Facts)
		saved = result.Facts
	}
	note := joinNote(memory.MergeFacts(saved, personal))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeSlotLocked(turn.slot, result.Visible, false, note) && note != "" {
		s.scheduleNoteClearLocked(turn.slot, note)
	}
	s.finishLocked(OutcomeCompleted)
	s.persistLocked()
	s.publishLocked()

	s.logger.Debug("turn completed",
		zap.Uint64("turn", turn.seq),
		zap.Int("facts", len(result.Facts)),
		zap.Duration("duration", time.Since(turn.started)))
}

// failTurn writes the error into the slot and raises a retryable notice.
func (s *Session) failTurn(turn *pendingTurn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != turn {
		return
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = s.strings.GenericError
	}
	s.writeSlotLocked(turn.slot, fmt.Sprintf(s.strings.AssistantErrorTemplate, msg), false, "")
	s.notice = &Notice{
		Message:     fmt.Sprintf(s.strings.FailureNoticeTemplate, msg),
		ActionLabel: s.strings.RetryLabel,
		RetryText:   turn.text,
	}
	s.finishLocked(OutcomeFailed)
	s.persistLocked()
	s.publishLocked()

	s.logger.Warn("turn failed", zap.Uint64("turn", turn.seq), zap.Error(err))
}

// finishLocked detaches the current turn and returns to Idle.
func (s *Session) finishLocked(outcome Outcome) {
	s.turn = nil
	s.phase = PhaseIdle
	s.outcome = outcome
}

// saveFacts writes facts best-effort. Failures are logged and swallowed.
func (s *Session) saveFacts(facts []string) {
	if len(facts) == 0 || s.facts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), factSaveTimeout)
	defer cancel()
	for _, fact := range facts {
		if err := s.facts.AddFact(ctx, fact); err != nil {
			s.logger.Warn("failed to save fact", zap.Error(err))
		}
	}
}

// =============================================================================
// SLOT WRITES
// =============================================================================

// writeSlotLocked rewrites the slot's turn. The write is dropped unless the
// slot's conversation is active and the turn is still an assistant turn.
func (s *Session) writeSlotLocked(slot Slot, content string, thinking bool, note string) bool {
	if slot.ConversationID != s.active.ID ||
		slot.Index < 0 || slot.Index >= len(s.active.Turns) ||
		s.active.Turns[slot.Index].Role != model.RoleAssistant {
		s.logger.Debug("dropping stale slot write",
			zap.String("conversation", slot.ConversationID),
			zap.Int("index", slot.Index))
		return false
	}
	t := &s.active.Turns[slot.Index]
	t.Content = content
	t.Thinking = thinking
	t.FactsNote = note
	s.active.UpdatedAt = time.Now()
	return true
}

// scheduleNoteClearLocked clears the "facts saved" note after noteTTL if the
// slot still shows the same note in the same active conversation.
func (s *Session) scheduleNoteClearLocked(slot Slot, note string) {
	var timer *time.Timer
	timer = time.AfterFunc(s.noteTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.timers, timer)
		if s.closed || slot.ConversationID != s.active.ID ||
			slot.Index >= len(s.active.Turns) {
			return
		}
		t := &s.active.Turns[slot.Index]
		if t.Role != model.RoleAssistant || t.FactsNote != note {
			return
		}
		t.FactsNote = ""
		s.publishLocked()
	})
	s.timers[timer] = struct{}{}
}

// =============================================================================
// STOP AND RETRY
// =============================================================================

// Stop interrupts the in-flight turn. No delta is applied once Stop has
// begun. It waits up to the teardown timeout for the stream goroutine to
// exit and reports whether a turn was interrupted.
func (s *Session) Stop() bool {
	s.mu.Lock()
	turn := s.turn
	if turn == nil {
		s.mu.Unlock()
		return false
	}

	s.phase = PhaseCancelling
	s.turn = nil
	turn.cancel()
	s.completer.CancelActive()

	slot := turn.slot
	if slot.ConversationID == s.active.ID && slot.Index < len(s.active.Turns) &&
		s.active.Turns[slot.Index].Thinking {
		s.writeSlotLocked(slot, s.strings.Interrupted, false, "")
	}
	s.persistLocked()
	s.publishLocked()
	s.mu.Unlock()

	timer := time.NewTimer(s.teardown)
	defer timer.Stop()
	select {
	case <-turn.done:
	case <-timer.C:
		s.logger.Warn("stream did not stop within teardown timeout",
			zap.Uint64("turn", turn.seq), zap.Duration("timeout", s.teardown))
	}

	s.mu.Lock()
	if s.phase == PhaseCancelling {
		s.phase = PhaseIdle
	}
	s.outcome = OutcomeInterrupted
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Debug("turn interrupted", zap.Uint64("turn", turn.seq))
	return true
}

// Retry resends the last sent message. It only works from Idle and clears
// any pending notice.
func (s *Session) Retry() bool {
	s.mu.Lock()
	if s.closed || s.phase != PhaseIdle || s.lastSent == "" {
		s.mu.Unlock()
		return false
	}
	text := s.lastSent
	s.notice = nil
	s.mu.Unlock()

	return s.Send(text)
}
