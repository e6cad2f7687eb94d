// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/nexus-chat/internal/cloud"
	"github.com/jeranaias/nexus-chat/internal/config"
	"github.com/jeranaias/nexus-chat/internal/model"
	"github.com/jeranaias/nexus-chat/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// =============================================================================
// FAKES
// =============================================================================

type scriptFunc func(ctx context.Context, msgs []cloud.ChatMessage, onDelta func(string)) error

type fakeCompleter struct {
	mu      sync.Mutex
	scripts []scriptFunc
	calls   [][]cloud.ChatMessage
	cancels int
}

func newFakeCompleter(scripts ...scriptFunc) *fakeCompleter {
	return &fakeCompleter{scripts: scripts}
}

func (f *fakeCompleter) Stream(ctx context.Context, msgs []cloud.ChatMessage, onDelta func(string)) error {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, msgs)
	script := f.scripts[len(f.scripts)-1]
	if n < len(f.scripts) {
		script = f.scripts[n]
	}
	f.mu.Unlock()
	return script(ctx, msgs, onDelta)
}

func (f *fakeCompleter) CancelActive() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCompleter) call(i int) []cloud.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeCompleter) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

// chunks delivers each chunk in order and ends normally.
func chunks(parts ...string) scriptFunc {
	return func(ctx context.Context, _ []cloud.ChatMessage, onDelta func(string)) error {
		for _, p := range parts {
			onDelta(p)
		}
		return nil
	}
}

func failWith(err error) scriptFunc {
	return func(context.Context, []cloud.ChatMessage, func(string)) error {
		return err
	}
}

// blockUntilCancelled delivers first, signals started, waits for
// cancellation, then pushes one more delta the way a queued chunk would.
func blockUntilCancelled(first string, started chan<- struct{}) scriptFunc {
	return func(ctx context.Context, _ []cloud.ChatMessage, onDelta func(string)) error {
		onDelta(first)
		close(started)
		<-ctx.Done()
		onDelta(" late delta")
		return ctx.Err()
	}
}

type memStore struct {
	mu    sync.Mutex
	convs map[string]model.Transcript
}

func newMemStore() *memStore {
	return &memStore{convs: make(map[string]model.Transcript)}
}

func (m *memStore) LoadConversations() ([]model.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Transcript, 0, len(m.convs))
	for _, c := range m.convs {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memStore) UpsertConversation(t model.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !t.HasContent() {
		delete(m.convs, t.ID)
		return nil
	}
	m.convs[t.ID] = t.Clone()
	return nil
}

func (m *memStore) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return storage.ErrConversationNotFound
	}
	delete(m.convs, id)
	return nil
}

func (m *memStore) ClearAllConversations() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs = make(map[string]model.Transcript)
	return nil
}

func (m *memStore) get(id string) (model.Transcript, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.convs[id]
	return t, ok
}

type memFacts struct {
	mu    sync.Mutex
	facts []string
	err   error
}

func (m *memFacts) LoadFacts(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.facts...), nil
}

func (m *memFacts) AddFact(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, f := range m.facts {
		if strings.EqualFold(f, text) {
			return nil
		}
	}
	m.facts = append([]string{text}, m.facts...)
	return nil
}

func (m *memFacts) list() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.facts...)
}

// =============================================================================
// HELPERS
// =============================================================================

type harness struct {
	s     *Session
	comp  *fakeCompleter
	store *memStore
	facts *memFacts
	prefs *config.Preferences
}

func newHarness(t *testing.T, comp *fakeCompleter, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		comp:  comp,
		store: newMemStore(),
		facts: &memFacts{},
		prefs: config.NewPreferences(config.MemoryConfig{Enabled: true, AutoSave: true}),
	}
	cfg := Config{
		Completer:   comp,
		Store:       h.store,
		Facts:       h.facts,
		Preferences: h.prefs,
		NoteTTL:     time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	h.s = s
	return h
}

func waitOutcome(t *testing.T, s *Session, want Outcome) State {
	t.Helper()
	require.Eventually(t, func() bool {
		st := s.Snapshot()
		return st.Phase == PhaseIdle && st.LastOutcome == want
	}, 2*time.Second, 5*time.Millisecond)
	return s.Snapshot()
}

func lastTurn(st State) model.Turn {
	return st.Conversation.Turns[len(st.Conversation.Turns)-1]
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_IgnoresBlankInput(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("unused")))

	for _, text := range []string{"", "   ", "\n\t "} {
		assert.False(t, h.s.Send(text), "Send(%q)", text)
	}

	st := h.s.Snapshot()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Len(t, st.Conversation.Turns, 1, "only the greeting")
	assert.Equal(t, 0, h.comp.callCount())
}

func TestSend_StreamsChunksIntoSlot(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("Hi ", "there", "!")))

	require.True(t, h.s.Send("  hello  "))
	st := waitOutcome(t, h.s, OutcomeCompleted)

	require.Len(t, st.Conversation.Turns, 3)
	user := st.Conversation.Turns[1]
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, "hello", user.Content)

	reply := lastTurn(st)
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Equal(t, "Hi there!", reply.Content)
	assert.False(t, reply.Thinking)
	assert.Empty(t, reply.FactsNote)
	assert.Nil(t, st.Pending)

	saved, ok := h.store.get(st.Conversation.ID)
	require.True(t, ok, "conversation should be persisted after the turn")
	assert.Equal(t, "Hi there!", saved.Turns[2].Content)
}

func TestSend_RequestLayout(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("ok")))
	h.facts.facts = []string{"likes tea"}

	require.True(t, h.s.Send("hello"))
	waitOutcome(t, h.s, OutcomeCompleted)

	msgs := h.comp.call(0)
	require.Len(t, msgs, 4)

	assert.Equal(t, "system", msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, DefaultStrings().SystemPrompt))
	assert.Contains(t, msgs[0].Content, "<<MEMORY_SAVE: ...>>")

	assert.Equal(t, "system", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, DefaultStrings().MemoryContextHeader)
	assert.Contains(t, msgs[1].Content, "- likes tea")

	assert.Equal(t, cloud.NewAssistantMessage(DefaultStrings().Greeting), msgs[2])
	assert.Equal(t, cloud.NewUserMessage("hello"), msgs[3], "user turn appears once, placeholder omitted")
}

func TestSend_SkipsBlankHistoryTurns(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks(""), chunks("second")))

	require.True(t, h.s.Send("first"))
	st := waitOutcome(t, h.s, OutcomeCompleted)
	require.Equal(t, "", lastTurn(st).Content)

	require.True(t, h.s.Send("again"))
	require.Eventually(t, func() bool { return h.comp.callCount() == 2 }, time.Second, 5*time.Millisecond)
	waitOutcome(t, h.s, OutcomeCompleted)

	for _, m := range h.comp.call(1) {
		assert.NotEmpty(t, strings.TrimSpace(m.Content), "blank turn sent: %+v", m)
	}
}

func TestSend_RejectedWhileSending(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, newFakeCompleter(blockUntilCancelled("working", started)))

	require.True(t, h.s.Send("one"))
	<-started
	assert.False(t, h.s.Send("two"))
	assert.False(t, h.s.Retry())
	assert.Equal(t, PhaseSending, h.s.Snapshot().Phase)

	require.True(t, h.s.Stop())
	assert.Equal(t, 1, h.comp.callCount())
}

// =============================================================================
// MEMORY FACTS
// =============================================================================

func TestSend_MarkerHiddenWhileStreaming(t *testing.T) {
	var seen []string
	var s *Session
	script := func(ctx context.Context, _ []cloud.ChatMessage, onDelta func(string)) error {
		for _, p := range []string{"Sure, noted.", " <<MEMO", "RY_SAVE: likes", " tea>>", "\n"} {
			onDelta(p)
			seen = append(seen, lastTurn(s.Snapshot()).Content)
		}
		return nil
	}
	h := newHarness(t, newFakeCompleter(script))
	s = h.s

	require.True(t, h.s.Send("I like tea"))
	st := waitOutcome(t, h.s, OutcomeCompleted)

	for _, v := range seen {
		assert.NotContains(t, v, "<<")
		assert.NotContains(t, v, "MEMO")
	}
	reply := lastTurn(st)
	assert.Equal(t, "Sure, noted.", reply.Content)
	assert.Equal(t, "likes tea", reply.FactsNote)
	assert.Equal(t, []string{"likes tea"}, h.facts.list())
}

func TestSend_CombinesMarkerAndPersonalFacts(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("Lisbon is lovely! <<MEMORY_SAVE: likes tea>> <<MEMORY_SAVE: Likes Tea>>")))

	require.True(t, h.s.Send("I live in Lisbon."))
	st := waitOutcome(t, h.s, OutcomeCompleted)

	reply := lastTurn(st)
	assert.Equal(t, "Lisbon is lovely!", reply.Content)
	assert.Equal(t, "likes tea • User lives in Lisbon.", reply.FactsNote)

	// Personal facts are saved before the request is built.
	assert.Contains(t, h.comp.call(0)[1].Content, "User lives in Lisbon.")
	assert.ElementsMatch(t, []string{"likes tea", "User lives in Lisbon."}, h.facts.list())

	saved, ok := h.store.get(st.Conversation.ID)
	require.True(t, ok)
	assert.Empty(t, saved.Turns[2].FactsNote, "notes are not persisted")
}

func TestSend_FactsDisabled(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("Hi <<MEMORY_SAVE: likes tea>>")))
	h.facts.facts = []string{"old fact"}
	h.prefs.Set(config.MemoryConfig{Enabled: false, AutoSave: true})

	require.True(t, h.s.Send("I live in Lisbon."))
	st := waitOutcome(t, h.s, OutcomeCompleted)

	msgs := h.comp.call(0)
	assert.Equal(t, DefaultStrings().SystemPrompt, msgs[0].Content)
	for _, m := range msgs {
		assert.NotContains(t, m.Content, "old fact")
	}
	assert.Equal(t, "Hi", lastTurn(st).Content, "markers are hidden regardless")
	assert.Empty(t, lastTurn(st).FactsNote)
	assert.Equal(t, []string{"old fact"}, h.facts.list())
}

func TestSend_AutoSaveDisabledStillInjectsFacts(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("Hi <<MEMORY_SAVE: likes tea>>")))
	h.facts.facts = []string{"old fact"}
	h.prefs.Set(config.MemoryConfig{Enabled: true, AutoSave: false})

	require.True(t, h.s.Send("I'm 30 years old"))
	st := waitOutcome(t, h.s, OutcomeCompleted)

	assert.Contains(t, h.comp.call(0)[1].Content, "old fact")
	assert.Empty(t, lastTurn(st).FactsNote)
	assert.Equal(t, []string{"old fact"}, h.facts.list())
}

func TestSend_FinishedReplyKeepsTrailingOpener(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("In C++ you print with ", "cout <<")))

	require.True(t, h.s.Send("how do I print?"))
	st := waitOutcome(t, h.s, OutcomeCompleted)

	assert.Equal(t, "In C++ you print with cout <<", lastTurn(st).Content)
	saved, ok := h.store.get(st.Conversation.ID)
	require.True(t, ok)
	assert.Equal(t, "In C++ you print with cout <<", saved.Turns[2].Content)
	assert.Empty(t, h.facts.list())
}

func TestSend_FactSaveFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("Okay. <<MEMORY_SAVE: likes tea>>")))
	h.facts.err = errors.New("disk full")

	require.True(t, h.s.Send("I'm 30 years old"))
	st := waitOutcome(t, h.s, OutcomeCompleted)

	assert.Equal(t, "Okay.", lastTurn(st).Content)
	assert.Nil(t, st.Notice)
}

func TestFactsNote_ClearedAfterTTL(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("Done <<MEMORY_SAVE: likes tea>>")),
		func(c *Config) { c.NoteTTL = 30 * time.Millisecond })

	require.True(t, h.s.Send("remember this"))
	waitOutcome(t, h.s, OutcomeCompleted)

	require.Eventually(t, func() bool {
		return lastTurn(h.s.Snapshot()).FactsNote == ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Done", lastTurn(h.s.Snapshot()).Content)
}

// =============================================================================
// FAILURE AND RETRY
// =============================================================================

func TestSend_FailureRaisesNoticeAndRetryRecovers(t *testing.T) {
	boom := &cloud.TransportError{Op: "stream", Status: 500, Message: "boom"}
	h := newHarness(t, newFakeCompleter(failWith(boom), chunks("recovered")))

	require.True(t, h.s.Send("hello"))
	st := waitOutcome(t, h.s, OutcomeFailed)

	assert.Equal(t, "Error: "+boom.Error(), lastTurn(st).Content)
	assert.False(t, lastTurn(st).Thinking)
	require.NotNil(t, st.Notice)
	assert.Equal(t, "Request failed: "+boom.Error(), st.Notice.Message)
	assert.Equal(t, "Retry", st.Notice.ActionLabel)
	assert.Equal(t, "hello", st.Notice.RetryText)

	saved, ok := h.store.get(st.Conversation.ID)
	require.True(t, ok, "failed turns are persisted")
	assert.Equal(t, "Error: "+boom.Error(), saved.Turns[2].Content)

	require.True(t, h.s.Retry())
	st = waitOutcome(t, h.s, OutcomeCompleted)
	assert.Nil(t, st.Notice)
	require.Len(t, st.Conversation.Turns, 5)
	assert.Equal(t, "hello", st.Conversation.Turns[3].Content)
	assert.Equal(t, "recovered", st.Conversation.Turns[4].Content)
}

func TestSend_EmptyResponseFails(t *testing.T) {
	empty := &cloud.TransportError{Op: "stream", Message: "empty response", Err: cloud.ErrEmptyResponse}
	h := newHarness(t, newFakeCompleter(failWith(empty)))

	require.True(t, h.s.Send("hello"))
	st := waitOutcome(t, h.s, OutcomeFailed)

	assert.Equal(t, "Error: "+empty.Error(), lastTurn(st).Content)
	require.NotNil(t, st.Notice)
	assert.Equal(t, "hello", st.Notice.RetryText)
}

func TestRetry_WithoutMessage(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("x")))
	assert.False(t, h.s.Retry())
	assert.Equal(t, 0, h.comp.callCount())
}

func TestConsumeNotice(t *testing.T) {
	h := newHarness(t, newFakeCompleter(failWith(errors.New("offline"))))

	require.True(t, h.s.Send("hello"))
	waitOutcome(t, h.s, OutcomeFailed)

	n := h.s.ConsumeNotice()
	require.NotNil(t, n)
	assert.Equal(t, "Request failed: offline", n.Message)
	assert.Nil(t, h.s.ConsumeNotice())
	assert.Nil(t, h.s.Snapshot().Notice)
}

// =============================================================================
// STOP
// =============================================================================

func TestStop_MidStream(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, newFakeCompleter(blockUntilCancelled("partial", started)))

	require.True(t, h.s.Send("tell me a story"))
	<-started
	assert.Equal(t, "partial", lastTurn(h.s.Snapshot()).Content)

	require.True(t, h.s.Stop())

	st := h.s.Snapshot()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, OutcomeInterrupted, st.LastOutcome)
	assert.Equal(t, 1, h.comp.cancelCount())

	reply := lastTurn(st)
	assert.Equal(t, DefaultStrings().Interrupted, reply.Content, "late delta must not land")
	assert.False(t, reply.Thinking)

	saved, ok := h.store.get(st.Conversation.ID)
	require.True(t, ok)
	assert.Equal(t, DefaultStrings().Interrupted, saved.Turns[2].Content)

	assert.False(t, h.s.Stop(), "nothing left to stop")
}

func TestStop_StreamEndingAfterStopSavesNoFacts(t *testing.T) {
	started := make(chan struct{})
	script := func(ctx context.Context, _ []cloud.ChatMessage, onDelta func(string)) error {
		onDelta("Okay <<MEMORY_SAVE: likes tea>>")
		close(started)
		<-ctx.Done()
		return nil
	}
	h := newHarness(t, newFakeCompleter(script))

	require.True(t, h.s.Send("I like tea"))
	<-started
	require.True(t, h.s.Stop())

	st := h.s.Snapshot()
	assert.Equal(t, OutcomeInterrupted, st.LastOutcome)
	assert.Equal(t, DefaultStrings().Interrupted, lastTurn(st).Content)
	assert.Empty(t, h.facts.list(), "an interrupted turn must not save marker facts")
}

// gatedFacts blocks AddFact until the gate opens.
type gatedFacts struct {
	memFacts
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedFacts) AddFact(ctx context.Context, text string) error {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return g.memFacts.AddFact(ctx, text)
}

func TestStop_WhileFactsSaveFindsNothingToInterrupt(t *testing.T) {
	facts := &gatedFacts{entered: make(chan struct{}), gate: make(chan struct{})}
	h := newHarness(t, newFakeCompleter(chunks("Okay <<MEMORY_SAVE: likes tea>>")),
		func(c *Config) { c.Facts = facts })

	require.True(t, h.s.Send("noted?"))
	<-facts.entered

	assert.False(t, h.s.Stop(), "the stream already finished")
	assert.False(t, h.s.Send("too soon"))
	assert.Equal(t, PhaseSending, h.s.Snapshot().Phase)

	close(facts.gate)
	st := waitOutcome(t, h.s, OutcomeCompleted)

	reply := lastTurn(st)
	assert.Equal(t, "Okay", reply.Content)
	assert.Equal(t, "likes tea", reply.FactsNote)
	assert.Equal(t, []string{"likes tea"}, facts.list())
}

func TestStop_BoundedByTeardownTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	stubborn := func(ctx context.Context, _ []cloud.ChatMessage, onDelta func(string)) error {
		onDelta("x")
		close(started)
		<-release
		onDelta("ignored")
		return nil
	}
	h := newHarness(t, newFakeCompleter(stubborn),
		func(c *Config) { c.TeardownTimeout = 30 * time.Millisecond })

	require.True(t, h.s.Send("go"))
	<-started

	begin := time.Now()
	require.True(t, h.s.Stop())
	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, PhaseIdle, h.s.Snapshot().Phase)

	close(release)
	require.Eventually(t, func() bool {
		return lastTurn(h.s.Snapshot()).Content == DefaultStrings().Interrupted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, OutcomeInterrupted, h.s.Snapshot().LastOutcome)
}

func TestStaleSlot_DroppedAcrossConversationSwitch(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, newFakeCompleter(blockUntilCancelled("first half", started)))

	other := model.NewTranscript("")
	other.Append(model.NewTurn(model.RoleUser, "old question"))
	other.Append(model.NewTurn(model.RoleAssistant, "old answer"))
	require.NoError(t, h.store.UpsertConversation(other))

	require.True(t, h.s.Send("new question"))
	<-started
	origID := h.s.Snapshot().Conversation.ID

	require.NoError(t, h.s.LoadConversation(other.ID))

	st := h.s.Snapshot()
	assert.Equal(t, other.ID, st.Conversation.ID)
	require.Len(t, st.Conversation.Turns, 2)
	assert.Equal(t, "old answer", st.Conversation.Turns[1].Content)

	left, ok := h.store.get(origID)
	require.True(t, ok)
	assert.Equal(t, DefaultStrings().Interrupted, left.Turns[2].Content)
}

func TestWriteSlot_Guard(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("x")))
	s := h.s

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.active.ID
	s.active.Append(model.NewTurn(model.RoleUser, "question"))

	assert.False(t, s.writeSlotLocked(Slot{ConversationID: "elsewhere", Index: 0}, "x", false, ""))
	assert.False(t, s.writeSlotLocked(Slot{ConversationID: id, Index: 1}, "x", false, ""), "user turn")
	assert.False(t, s.writeSlotLocked(Slot{ConversationID: id, Index: 9}, "x", false, ""), "out of range")
	assert.True(t, s.writeSlotLocked(Slot{ConversationID: id, Index: 0}, "rewritten", false, ""))
	assert.Equal(t, "rewritten", s.active.Turns[0].Content)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func TestNewConversation(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("answer")))
	require.True(t, h.s.Send("question"))
	first := waitOutcome(t, h.s, OutcomeCompleted).Conversation.ID

	h.s.NewConversation()
	st := h.s.Snapshot()
	assert.NotEqual(t, first, st.Conversation.ID)
	require.Len(t, st.Conversation.Turns, 1)
	assert.Equal(t, DefaultStrings().Greeting, st.Conversation.Turns[0].Content)
	assert.Equal(t, OutcomeNone, st.LastOutcome)

	convs, err := h.s.Conversations()
	require.NoError(t, err)
	assert.Len(t, convs, 1, "fresh conversations are stored lazily")
}

func TestLoadConversation_Unknown(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("x")))
	err := h.s.LoadConversation("3f1c9a52-2f0d-4b8e-9a56-1d2f3e4a5b6c")
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestDeleteConversation(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("answer")))

	t.Run("active unsaved", func(t *testing.T) {
		before := h.s.Snapshot().Conversation.ID
		require.NoError(t, h.s.DeleteConversation(before))
		assert.NotEqual(t, before, h.s.Snapshot().Conversation.ID)
	})

	t.Run("active saved", func(t *testing.T) {
		require.True(t, h.s.Send("question"))
		id := waitOutcome(t, h.s, OutcomeCompleted).Conversation.ID
		require.NoError(t, h.s.DeleteConversation(id))
		_, ok := h.store.get(id)
		assert.False(t, ok)
		assert.NotEqual(t, id, h.s.Snapshot().Conversation.ID)
	})

	t.Run("unknown", func(t *testing.T) {
		err := h.s.DeleteConversation("3f1c9a52-2f0d-4b8e-9a56-1d2f3e4a5b6c")
		assert.ErrorIs(t, err, storage.ErrConversationNotFound)
	})
}

func TestClearAll(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("answer")))
	require.True(t, h.s.Send("question"))
	id := waitOutcome(t, h.s, OutcomeCompleted).Conversation.ID

	require.NoError(t, h.s.ClearAll())
	convs, err := h.s.Conversations()
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.NotEqual(t, id, h.s.Snapshot().Conversation.ID)
}

func TestNew_ResumeLatest(t *testing.T) {
	store := newMemStore()
	old := model.NewTranscript("")
	old.Append(model.NewTurn(model.RoleUser, "remember me"))
	require.NoError(t, store.UpsertConversation(old))

	s, err := New(Config{Completer: newFakeCompleter(chunks("x")), Store: store, ResumeLatest: true})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, old.ID, s.Snapshot().Conversation.ID)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Store: newMemStore()})
	assert.Error(t, err)
	_, err = New(Config{Completer: newFakeCompleter(chunks("x"))})
	assert.Error(t, err)
}

// =============================================================================
// NOTIFICATION AND CLOSE
// =============================================================================

func TestSubscribe_LatestWins(t *testing.T) {
	h := newHarness(t, newFakeCompleter(chunks("a", "b", "c", "d")))
	updates, cancel := h.s.Subscribe()

	initial := <-updates
	assert.Equal(t, PhaseIdle, initial.Phase)

	// Nobody reads while the turn runs; publishing must not block.
	require.True(t, h.s.Send("go"))
	waitOutcome(t, h.s, OutcomeCompleted)

	latest := <-updates
	assert.Equal(t, PhaseIdle, latest.Phase)
	assert.Equal(t, OutcomeCompleted, latest.LastOutcome)
	assert.Equal(t, "abcd", lastTurn(latest).Content)

	cancel()
	cancel()
	_, open := <-updates
	assert.False(t, open)
}

func TestClose(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, newFakeCompleter(blockUntilCancelled("x", started)))
	updates, _ := h.s.Subscribe()

	require.True(t, h.s.Send("go"))
	<-started
	require.NoError(t, h.s.Close())

	assert.Equal(t, OutcomeInterrupted, h.s.Snapshot().LastOutcome)
	assert.False(t, h.s.Send("again"))
	assert.ErrorIs(t, h.s.LoadConversation("x"), ErrSessionClosed)

	for range updates {
	}
	_, open := <-updates
	assert.False(t, open)
}

func TestPhaseAndOutcomeStrings(t *testing.T) {
	assert.Equal(t, "sending", PhaseSending.String())
	assert.Equal(t, "cancelling", PhaseCancelling.String())
	assert.Equal(t, "interrupted", OutcomeInterrupted.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
