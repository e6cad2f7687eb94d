// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/nexus-chat/internal/cloud"
	"github.com/jeranaias/nexus-chat/internal/memory"
	"github.com/jeranaias/nexus-chat/internal/model"
)

const (
	// DefaultNoteTTL is how long the "facts saved" note stays on a turn.
	DefaultNoteTTL = 2500 * time.Millisecond

	// DefaultTeardownTimeout bounds how long Stop waits for the stream
	// goroutine to exit.
	DefaultTeardownTimeout = 5 * time.Second

	// factSaveTimeout bounds a best-effort fact write.
	factSaveTimeout = 5 * time.Second

	// noteSeparator joins facts in the "facts saved" note.
	noteSeparator = " • "
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// ErrUnknownConversation is returned when loading an id the store does not have.
var ErrUnknownConversation = errors.New("conversation not found")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Completer streams one completion. *cloud.Client satisfies it.
type Completer interface {
	Stream(ctx context.Context, messages []cloud.ChatMessage, onDelta func(string)) error
	CancelActive()
}

// TranscriptStore persists conversations. Upserting a transcript without
// content deletes it.
type TranscriptStore interface {
	LoadConversations() ([]model.Transcript, error)
	UpsertConversation(t model.Transcript) error
	DeleteConversation(id string) error
	ClearAllConversations() error
}

// FactStore persists long-term facts.
type FactStore interface {
	LoadFacts(ctx context.Context) ([]string, error)
	AddFact(ctx context.Context, text string) error
}

// Preferences gates fact handling.
type Preferences interface {
	FactsEnabled() bool
	AutoSaveEnabled() bool
}

// =============================================================================
// STATE TYPES
// =============================================================================

// Phase is the session's position in the turn lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseCancelling
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// Outcome is how the most recent turn ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Slot identifies the assistant turn a stream may write to.
type Slot struct {
	ConversationID string
	Index          int
}

// Notice is a user-facing failure notification with one retry action.
type Notice struct {
	Message     string
	ActionLabel string
	RetryText   string
}

// State is a snapshot of the session. It shares nothing with the session.
type State struct {
	Conversation model.Transcript
	Phase        Phase
	LastOutcome  Outcome
	Notice       *Notice
	Pending      *Slot
}

// =============================================================================
// SESSION
// =============================================================================

// Config wires a Session to its collaborators. Completer and Store are
// required. A nil Facts store or nil Preferences disables fact handling.
type Config struct {
	Completer   Completer
	Store       TranscriptStore
	Facts       FactStore
	Preferences Preferences

	// Marker grammar; the zero value means memory.DefaultDelimiters.
	Delimiters memory.Delimiters

	// Strings; blank fields take DefaultStrings.
	Strings Strings

	NoteTTL         time.Duration
	TeardownTimeout time.Duration

	// ResumeLatest opens the most recently updated stored conversation
	// instead of starting a new one.
	ResumeLatest bool

	Logger *zap.Logger
}

// Session is the chat state machine. All mutation happens under mu.
type Session struct {
	mu sync.Mutex

	completer Completer
	store     TranscriptStore
	facts     FactStore
	prefs     Preferences
	extractor *memory.Extractor
	strings   Strings
	logger    *zap.Logger

	noteTTL  time.Duration
	teardown time.Duration

	active   model.Transcript
	phase    Phase
	outcome  Outcome
	notice   *Notice
	lastSent string

	// turn is the in-flight turn; nil when none is current.
	turn    *pendingTurn
	turnSeq uint64

	subs    map[int]chan State
	nextSub int
	timers  map[*time.Timer]struct{}
	closed  bool
}

// New creates a session with a fresh conversation, or the latest stored one
// when cfg.ResumeLatest is set.
func New(cfg Config) (*Session, error) {
	if cfg.Completer == nil {
		return nil, errors.New("session: completer is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: transcript store is required")
	}

	delims := cfg.Delimiters
	if delims == (memory.Delimiters{}) {
		delims = memory.DefaultDelimiters()
	}
	extractor, err := memory.NewExtractor(delims)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		completer: cfg.Completer,
		store:     cfg.Store,
		facts:     cfg.Facts,
		prefs:     cfg.Preferences,
		extractor: extractor,
		strings:   cfg.Strings.withDefaults(),
		logger:    logger.With(zap.String("component", "session")),
		noteTTL:   cfg.NoteTTL,
		teardown:  cfg.TeardownTimeout,
		subs:      make(map[int]chan State),
		timers:    make(map[*time.Timer]struct{}),
	}
	if s.noteTTL <= 0 {
		s.noteTTL = DefaultNoteTTL
	}
	if s.teardown <= 0 {
		s.teardown = DefaultTeardownTimeout
	}

	s.active = model.NewTranscript(s.strings.Greeting)
	if cfg.ResumeLatest {
		convs, err := s.store.LoadConversations()
		if err != nil {
			s.logger.Warn("failed to load conversations", zap.Error(err))
		} else if len(convs) > 0 {
			s.active = s.openable(convs[0])
		}
	}
	return s, nil
}

// factsOn reports whether stored facts and the marker instruction go into
// requests.
func (s *Session) factsOn() bool {
	return s.facts != nil && s.prefs != nil && s.prefs.FactsEnabled()
}

// autoSaveOn reports whether newly found facts are written to the store.
func (s *Session) autoSaveOn() bool {
	return s.factsOn() && s.prefs.AutoSaveEnabled()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := State{
		Conversation: s.active.Clone(),
		Phase:        s.phase,
		LastOutcome:  s.outcome,
	}
	if s.notice != nil {
		n := *s.notice
		st.Notice = &n
	}
	if s.turn != nil {
		slot := s.turn.slot
		st.Pending = &slot
	}
	return st
}

// ConsumeNotice returns the pending failure notice, if any, and clears it.
func (s *Session) ConsumeNotice() *Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notice
	if n != nil {
		s.notice = nil
		s.publishLocked()
	}
	return n
}

// =============================================================================
// NOTIFICATION
// =============================================================================

// Subscribe returns a channel of state snapshots and a cancel func. The
// channel holds one snapshot; a newer one replaces an unread older one, so
// a slow reader sees the latest state and never blocks the session. The
// current state is delivered immediately.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// publishLocked delivers the current state to every subscriber. Sends only
// happen under mu, so draining then sending cannot race another publisher.
func (s *Session) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	st := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

// Close stops any in-flight turn, cancels pending note timers and closes
// every subscription. Stores are owned by the caller and stay open.
func (s *Session) Close() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = map[*time.Timer]struct{}{}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return nil
}

// persistLocked writes the active conversation. Failures are logged; the
// in-memory transcript stays authoritative.
func (s *Session) persistLocked() {
	s.persistTranscriptLocked(s.active)
}

func (s *Session) persistTranscriptLocked(t model.Transcript) {
	if err := s.store.UpsertConversation(t.Persistable()); err != nil {
		s.logger.Warn("failed to persist conversation",
			zap.String("conversation", t.ID), zap.Error(err))
	}
}

// openable prepares a stored transcript for use as the active one.
func (s *Session) openable(t model.Transcript) model.Transcript {
	t = t.Clone()
	if len(t.Turns) == 0 {
		t.Append(model.NewTurn(model.RoleAssistant, s.strings.Greeting))
	}
	return t
}

// joinNote renders facts as a single "facts saved" note.
func joinNote(facts []string) string {
	return strings.Join(facts, noteSeparator)
}
