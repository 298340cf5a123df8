package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/gateway/memory"
	"github.com/hupe1980/chatmesh/guard"
	"github.com/hupe1980/chatmesh/internal/testutil"
	"github.com/hupe1980/chatmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSnapshots struct{ snap *core.Snapshot }

func (s staticSnapshots) Snapshot() *core.Snapshot { return s.snap }

// fakeCaller is a deterministic Caller with per-handle canned responses,
// per-handle errors, an optional gate blocking calls and concurrency
// tracking for serialization assertions.
type fakeCaller struct {
	mu          sync.Mutex
	responses   map[string]string
	errs        map[string]error
	gate        chan struct{}
	delay       time.Duration
	calls       []string
	inflight    map[string]int
	maxInflight map[string]int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses:   make(map[string]string),
		errs:        make(map[string]error),
		inflight:    make(map[string]int),
		maxInflight: make(map[string]int),
	}
}

func (f *fakeCaller) Call(ctx context.Context, e core.Entity, _ model.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, e.Handle)
	f.inflight[e.Handle]++
	if f.inflight[e.Handle] > f.maxInflight[e.Handle] {
		f.maxInflight[e.Handle] = f.inflight[e.Handle]
	}
	gate := f.gate
	delay := f.delay
	err := f.errs[e.Handle]
	resp, canned := f.responses[e.Handle]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inflight[e.Handle]--
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	if canned {
		return resp, nil
	}
	return e.Handle + " says hi", nil
}

func (f *fakeCaller) callHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestScheduler(handles []string, optFns ...func(o *Options)) (*Scheduler, *memory.Hub, *fakeCaller, *guard.Guard) {
	hub := memory.NewHub()
	caller := newFakeCaller()
	g := guard.New()
	s := New(hub, staticSnapshots{snap: testutil.Snapshot(handles...)}, caller, g, optFns...)
	return s, hub, caller, g
}

func userMessage(channelID, text string) core.Message {
	return testutil.NewMessageBuilder().Channel(channelID).From("Dana").Text(text).Build()
}

func entityLines(t *testing.T, hub *memory.Hub, channelID string) []core.Message {
	t.Helper()
	history, err := hub.Recent(context.Background(), channelID, 0)
	require.NoError(t, err)
	var out []core.Message
	for _, m := range history {
		if m.Author.IsEntity() {
			out = append(out, m)
		}
	}
	return out
}

func systemLines(t *testing.T, hub *memory.Hub, channelID string) []core.Message {
	t.Helper()
	history, err := hub.Recent(context.Background(), channelID, 0)
	require.NoError(t, err)
	var out []core.Message
	for _, m := range history {
		if m.Author.Kind == core.SpeakerSystem {
			out = append(out, m)
		}
	}
	return out
}

func TestHandleMessage_TwoMentionsBothRespond(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	ctx := context.Background()

	msg := userMessage("chan-1", "hey @anna and @tomas, thoughts?")
	hub.Post(msg)
	s.HandleMessage(ctx, msg)
	s.Wait()

	assert.ElementsMatch(t, []string{"anna", "tomas"}, caller.callHandles())

	lines := entityLines(t, hub, "chan-1")
	require.Len(t, lines, 2)
}

func TestHandleMessage_NoMentionsNoResponse(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna"})
	ctx := context.Background()

	msg := userMessage("chan-1", "just thinking out loud")
	hub.Post(msg)
	s.HandleMessage(ctx, msg)
	s.Wait()

	assert.Empty(t, caller.callHandles())
	assert.Empty(t, entityLines(t, hub, "chan-1"))
}

func TestHandleMessage_ReplyTriggersAuthor(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna"})
	ctx := context.Background()

	annaLineID, err := hub.Emit(ctx, "chan-1", core.EntitySpeaker("anna"), "I think option A.")
	require.NoError(t, err)

	reply := testutil.NewMessageBuilder().
		Channel("chan-1").From("Dana").Text("why A?").ReplyTo(annaLineID).Build()
	hub.Post(reply)
	s.HandleMessage(ctx, reply)
	s.Wait()

	assert.Equal(t, []string{"anna"}, caller.callHandles())
}

func TestHandleMessage_IgnoresEntityAuthored(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	ctx := context.Background()

	// Entity lines come back from platform adapters; cascades are already
	// scheduled internally, so these must not re-trigger.
	msg := testutil.NewMessageBuilder().
		Channel("chan-1").FromEntity("anna").Text("@tomas your turn").Build()
	hub.Post(msg)
	s.HandleMessage(ctx, msg)
	s.Wait()

	assert.Empty(t, caller.callHandles())
}

func TestHandleMessage_PausedDropsWithSingleNotice(t *testing.T) {
	s, hub, caller, g := newTestScheduler([]string{"anna"})
	ctx := context.Background()

	g.Pause(time.Hour)

	s.HandleMessage(ctx, userMessage("chan-1", "@anna hello"))
	s.HandleMessage(ctx, userMessage("chan-1", "@anna still there?"))
	s.Wait()

	assert.Empty(t, caller.callHandles())
	notices := systemLines(t, hub, "chan-1")
	require.Len(t, notices, 1, "one notice per pause period")
	assert.Contains(t, notices[0].Text, "paused")
}

func TestHandleMessage_ProviderFailureNotice(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna"})
	caller.errs["anna"] = model.ErrProviderUnavailable
	ctx := context.Background()

	msg := userMessage("chan-1", "@anna hello")
	hub.Post(msg)
	s.HandleMessage(ctx, msg)
	s.Wait()

	assert.Empty(t, entityLines(t, hub, "chan-1"))
	notices := systemLines(t, hub, "chan-1")
	require.Len(t, notices, 1)
	assert.Equal(t, "**anna** is unavailable right now.", notices[0].Text)
}

func TestCascade_OneHopThenStops(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	caller.responses["anna"] = "@tomas what do you think?"
	caller.responses["tomas"] = "@anna back to you"
	ctx := context.Background()

	msg := userMessage("chan-1", "@anna hello")
	hub.Post(msg)
	s.HandleMessage(ctx, msg)
	s.Wait()

	// anna at hop 0, tomas at hop 1; tomas's mention of anna is past the cap.
	assert.Equal(t, []string{"anna", "tomas"}, caller.callHandles())

	lines := entityLines(t, hub, "chan-1")
	require.Len(t, lines, 2)
	assert.Equal(t, "anna", lines[0].Author.Handle)
	assert.Equal(t, "tomas", lines[1].Author.Handle)
}

func TestCascade_AuthorNeverSelfTriggers(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna"})
	caller.responses["anna"] = "as @anna I repeat myself"
	ctx := context.Background()

	msg := userMessage("chan-1", "@anna hello")
	hub.Post(msg)
	s.HandleMessage(ctx, msg)
	s.Wait()

	assert.Equal(t, []string{"anna"}, caller.callHandles())
}

func TestRespond_PerEntitySerialization(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna"})
	caller.delay = 10 * time.Millisecond
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		msg := userMessage("chan-1", "@anna ping")
		hub.Post(msg)
		s.HandleMessage(ctx, msg)
	}
	s.Wait()

	caller.mu.Lock()
	defer caller.mu.Unlock()
	assert.Len(t, caller.calls, 4)
	assert.Equal(t, 1, caller.maxInflight["anna"], "responses for one entity never overlap")
}

func TestStartConversation_RoundRobin(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	ctx := context.Background()

	sess, err := s.StartConversation(ctx, "chan-1", []string{"anna", "tomas"}, 4)
	require.NoError(t, err)
	<-sess.Done()
	s.Wait()

	assert.Equal(t, SessionCompleted, sess.State())
	assert.Equal(t, 4, sess.TurnsDone())
	assert.Equal(t, []string{"anna", "tomas", "anna", "tomas"}, caller.callHandles())

	notices := systemLines(t, hub, "chan-1")
	require.NotEmpty(t, notices)
	assert.Contains(t, notices[len(notices)-1].Text, "completed")
}

func TestStartConversation_EmptyHandlesUsesAll(t *testing.T) {
	s, _, caller, _ := newTestScheduler([]string{"anna", "tomas", "sage"})
	ctx := context.Background()

	sess, err := s.StartConversation(ctx, "chan-1", nil, 3)
	require.NoError(t, err)
	<-sess.Done()
	s.Wait()

	assert.Equal(t, []string{"anna", "tomas", "sage"}, sess.Participants)
	assert.Equal(t, []string{"anna", "tomas", "sage"}, caller.callHandles())
}

func TestStartConversation_UnknownSkippedTooFewErrors(t *testing.T) {
	s, _, _, _ := newTestScheduler([]string{"anna", "tomas"})
	ctx := context.Background()

	_, err := s.StartConversation(ctx, "chan-1", []string{"anna", "ghost"}, 2)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2")
}

func TestStartConversation_Busy(t *testing.T) {
	s, _, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	caller.gate = make(chan struct{})
	ctx := context.Background()

	sess, err := s.StartConversation(ctx, "chan-1", nil, 2)
	require.NoError(t, err)

	_, err = s.StartConversation(ctx, "chan-1", nil, 2)
	assert.ErrorIs(t, err, core.ErrSessionBusy)

	close(caller.gate)
	<-sess.Done()
	s.Wait()

	// A finished session frees the slot.
	sess2, err := s.StartConversation(ctx, "chan-1", nil, 2)
	require.NoError(t, err)
	<-sess2.Done()
	s.Wait()
}

func TestCancelConversation_CooperativeAtTurnBoundary(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	caller.gate = make(chan struct{})
	ctx := context.Background()

	sess, err := s.StartConversation(ctx, "chan-1", nil, 10)
	require.NoError(t, err)

	// Wait until the first turn is in flight, then cancel and release it.
	require.Eventually(t, func() bool {
		return len(caller.callHandles()) == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, s.CancelConversation())
	close(caller.gate)

	<-sess.Done()
	s.Wait()

	assert.Equal(t, SessionCancelled, sess.State())
	assert.Equal(t, 1, sess.TurnsDone(), "the in-flight turn finishes before cancellation takes effect")

	notices := systemLines(t, hub, "chan-1")
	require.NotEmpty(t, notices)
	assert.Contains(t, notices[len(notices)-1].Text, "cancelled")
}

func TestCancelConversation_NoActiveSession(t *testing.T) {
	s, _, _, _ := newTestScheduler([]string{"anna", "tomas"})

	assert.Error(t, s.CancelConversation())
}

func TestSession_ErroredKeepsPartialTranscript(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	caller.errs["tomas"] = errors.New("provider down")
	ctx := context.Background()

	sess, err := s.StartConversation(ctx, "chan-1", nil, 4)
	require.NoError(t, err)
	<-sess.Done()
	s.Wait()

	assert.Equal(t, SessionErrored, sess.State())
	assert.Equal(t, 1, sess.TurnsDone())

	lines := entityLines(t, hub, "chan-1")
	require.Len(t, lines, 1, "anna's turn is retained")
	assert.Equal(t, "anna", lines[0].Author.Handle)

	notices := systemLines(t, hub, "chan-1")
	require.NotEmpty(t, notices)
	assert.Contains(t, notices[len(notices)-1].Text, "**tomas** is unavailable")
}

func TestSession_PauseStopsAtTurnBoundary(t *testing.T) {
	s, hub, _, g := newTestScheduler([]string{"anna", "tomas"})
	g.Pause(time.Hour)
	ctx := context.Background()

	sess, err := s.StartConversation(ctx, "chan-1", nil, 4)
	require.NoError(t, err)
	<-sess.Done()
	s.Wait()

	assert.Equal(t, SessionCancelled, sess.State())
	assert.Zero(t, sess.TurnsDone())

	notices := systemLines(t, hub, "chan-1")
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Text, "paused")
}

func TestHandleMessage_SessionParticipantsNotMentionable(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	caller.gate = make(chan struct{})
	ctx := context.Background()

	sess, err := s.StartConversation(ctx, "chan-1", nil, 2)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(caller.callHandles()) == 1
	}, time.Second, time.Millisecond)

	// Mentions of busy participants are dropped while the session runs.
	msg := userMessage("chan-1", "@anna @tomas are you there?")
	hub.Post(msg)
	s.HandleMessage(ctx, msg)

	close(caller.gate)
	<-sess.Done()
	s.Wait()

	assert.Equal(t, []string{"anna", "tomas"}, caller.callHandles(), "only the session turns ran")
}

func TestActiveSession_Reporting(t *testing.T) {
	s, _, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	caller.gate = make(chan struct{})
	ctx := context.Background()

	assert.Nil(t, s.ActiveSession())

	sess, err := s.StartConversation(ctx, "chan-1", nil, 2)
	require.NoError(t, err)

	info := s.ActiveSession()
	require.NotNil(t, info)
	assert.Equal(t, sess.ID, info.ID)
	assert.Equal(t, []string{"anna", "tomas"}, info.Participants)
	assert.Equal(t, 2, info.TurnBudget)
	assert.Equal(t, SessionActive, info.State)

	close(caller.gate)
	<-sess.Done()
	s.Wait()

	assert.Nil(t, s.ActiveSession(), "finished sessions no longer report")
}

func TestSpeak_EachRespondsOnceInOrder(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas", "sage"})
	ctx := context.Background()

	require.NoError(t, s.Speak(ctx, "chan-1", "sage", "anna"))

	assert.Equal(t, []string{"sage", "anna"}, caller.callHandles())
	lines := entityLines(t, hub, "chan-1")
	require.Len(t, lines, 2)
	assert.Equal(t, "sage", lines[0].Author.Handle)
	assert.Equal(t, "anna", lines[1].Author.Handle)
}

func TestSpeak_EmptyMeansAllInLoadOrder(t *testing.T) {
	s, _, caller, _ := newTestScheduler([]string{"anna", "tomas", "sage"})

	require.NoError(t, s.Speak(context.Background(), "chan-1"))

	assert.Equal(t, []string{"anna", "tomas", "sage"}, caller.callHandles())
}

func TestSpeak_UnknownHandleAborts(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna"})

	err := s.Speak(context.Background(), "chan-1", "anna", "ghost")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	assert.Empty(t, caller.callHandles(), "nothing speaks when any handle is unknown")
	assert.Empty(t, entityLines(t, hub, "chan-1"))
}

func TestSpeak_FailureNoticeThenContinues(t *testing.T) {
	s, hub, caller, _ := newTestScheduler([]string{"anna", "tomas"})
	caller.errs["anna"] = model.ErrProviderTimeout

	require.NoError(t, s.Speak(context.Background(), "chan-1", "anna", "tomas"))

	lines := entityLines(t, hub, "chan-1")
	require.Len(t, lines, 1)
	assert.Equal(t, "tomas", lines[0].Author.Handle)

	notices := systemLines(t, hub, "chan-1")
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Text, "**anna** is unavailable")
}

func TestSpeak_PausedStops(t *testing.T) {
	s, hub, caller, g := newTestScheduler([]string{"anna", "tomas"})
	g.Pause(time.Hour)

	require.NoError(t, s.Speak(context.Background(), "chan-1", "anna", "tomas"))

	assert.Empty(t, caller.callHandles())
	notices := systemLines(t, hub, "chan-1")
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Text, "paused")
}
