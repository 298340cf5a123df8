package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/chatmesh/core"
)

// SessionState is the lifecycle state of a conversation session.
type SessionState string

const (
	// SessionActive marks a session that is still advancing turns.
	SessionActive SessionState = "active"
	// SessionCompleted marks a session that used its full turn budget.
	SessionCompleted SessionState = "completed"
	// SessionCancelled marks a session stopped by request or pause.
	SessionCancelled SessionState = "cancelled"
	// SessionErrored marks a session stopped by an unrecoverable call
	// failure. The transcript already posted is retained, never rolled back.
	SessionErrored SessionState = "errored"
)

// Session is the ephemeral state of one multi-turn autonomous conversation.
// It is created by StartConversation, owned by the scheduler and becomes
// inert once it leaves SessionActive. At most one session is active at a
// time across the whole engine.
type Session struct {
	ID           string
	ChannelID    string
	Participants []string
	TurnBudget   int

	mu        sync.Mutex
	turnsDone int
	state     SessionState
	cancelled bool
	done      chan struct{}
}

// State returns the current lifecycle state.
func (c *Session) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TurnsDone returns how many turns have completed.
func (c *Session) TurnsDone() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnsDone
}

// Cancel requests cooperative termination. The flag is observed at the next
// turn boundary; an in-flight model call finishes first. Idempotent.
func (c *Session) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Done is closed when the session leaves SessionActive.
func (c *Session) Done() <-chan struct{} { return c.done }

func (c *Session) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Session) finish(state SessionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	close(c.done)
}

func (c *Session) turnDone() {
	c.mu.Lock()
	c.turnsDone++
	c.mu.Unlock()
}

// SessionInfo is a read-only snapshot of a session for status reporting.
type SessionInfo struct {
	ID           string
	ChannelID    string
	Participants []string
	TurnsDone    int
	TurnBudget   int
	State        SessionState
}

// StartConversation begins a multi-turn session among the given entities on
// a channel. An empty handle list means all registered entities. Unknown
// handles are skipped with a warning; fewer than two valid participants is
// an error. Returns core.ErrSessionBusy while another session is active.
// Turns advance strictly round-robin through the participants in the order
// given until the budget (default DefaultTurnBudget) is spent.
func (s *Scheduler) StartConversation(ctx context.Context, channelID string, handles []string, turns int) (*Session, error) {
	snap := s.snapshots.Snapshot()
	if len(handles) == 0 {
		handles = snap.Handles()
	}
	if turns <= 0 {
		turns = s.turnBudget
	}

	var participants []core.Entity
	for _, h := range handles {
		e, ok := snap.Get(h)
		if !ok {
			s.logger.Warn("conversation participant not found", "handle", h)
			continue
		}
		participants = append(participants, e)
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("conversation needs at least 2 entities, got %d", len(participants))
	}

	s.sessionMu.Lock()
	if s.session != nil && s.session.State() == SessionActive {
		s.sessionMu.Unlock()
		return nil, core.ErrSessionBusy
	}
	sess := &Session{
		ID:         core.NewID(),
		ChannelID:  channelID,
		TurnBudget: turns,
		state:      SessionActive,
		done:       make(chan struct{}),
	}
	for _, e := range participants {
		sess.Participants = append(sess.Participants, e.Handle)
	}
	s.session = sess
	s.sessionMu.Unlock()

	s.logger.Info("conversation session started", "session_id", sess.ID, "channel_id", channelID, "participants", strings.Join(sess.Participants, ","), "turns", turns)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSession(ctx, sess, participants)
	}()
	return sess, nil
}

// CancelConversation cancels the active session, if any.
func (s *Scheduler) CancelConversation() error {
	s.sessionMu.Lock()
	sess := s.session
	s.sessionMu.Unlock()
	if sess == nil || sess.State() != SessionActive {
		return fmt.Errorf("no active conversation session")
	}
	sess.Cancel()
	return nil
}

// ActiveSession reports the active session, or nil.
func (s *Scheduler) ActiveSession() *SessionInfo {
	s.sessionMu.Lock()
	sess := s.session
	s.sessionMu.Unlock()
	if sess == nil || sess.State() != SessionActive {
		return nil
	}
	return &SessionInfo{
		ID:           sess.ID,
		ChannelID:    sess.ChannelID,
		Participants: append([]string(nil), sess.Participants...),
		TurnsDone:    sess.TurnsDone(),
		TurnBudget:   sess.TurnBudget,
		State:        sess.State(),
	}
}

// runSession advances the session strictly round-robin. Each emitted turn
// lands in channel history before the next participant's context is
// assembled, so later speakers see earlier turns within the same session.
func (s *Scheduler) runSession(ctx context.Context, sess *Session, participants []core.Entity) {
	logger := s.logger
	for turn := 0; turn < sess.TurnBudget; turn++ {
		if sess.isCancelled() || ctx.Err() != nil {
			s.notify(ctx, sess.ChannelID, "Conversation cancelled.")
			sess.finish(SessionCancelled)
			return
		}
		if s.guard.PausedFor() > 0 {
			s.notify(ctx, sess.ChannelID, "Conversation stopped: entity activity is paused.")
			sess.finish(SessionCancelled)
			return
		}

		entity := participants[turn%len(participants)]
		logger.Info("conversation turn", "session_id", sess.ID, "entity", entity.Handle, "turn", turn+1, "budget", sess.TurnBudget)

		if err := s.sessionTurn(ctx, sess.ChannelID, entity); err != nil {
			s.notify(ctx, sess.ChannelID, fmt.Sprintf("**%s** is unavailable right now; conversation stopped.", entity.Name))
			sess.finish(SessionErrored)
			return
		}
		sess.turnDone()

		if s.turnDelay > 0 && turn < sess.TurnBudget-1 {
			select {
			case <-ctx.Done():
			case <-time.After(s.turnDelay):
			}
		}
	}
	s.notify(ctx, sess.ChannelID, "Conversation completed.")
	sess.finish(SessionCompleted)
}

// sessionTurn produces one turn. Session turns skip the automatic cascade:
// chaining inside a session comes from the round-robin schedule, not from
// mention-triggered hops.
func (s *Scheduler) sessionTurn(ctx context.Context, channelID string, e core.Entity) error {
	unlock := s.lockEntity(e.Handle)
	defer unlock()

	text, err := s.generate(ctx, channelID, e)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	_, err = s.gateway.Emit(ctx, channelID, e.Speaker(), text)
	return err
}

// Speak makes each listed entity respond once, in order, sequentially. An
// empty list means all registered entities in load order. Unknown handles
// abort before any response is produced.
func (s *Scheduler) Speak(ctx context.Context, channelID string, handles ...string) error {
	snap := s.snapshots.Snapshot()
	if len(handles) == 0 {
		handles = snap.Handles()
	}

	var entities []core.Entity
	for _, h := range handles {
		e, ok := snap.Get(h)
		if !ok {
			return fmt.Errorf("unknown entity handle %q", h)
		}
		entities = append(entities, e)
	}

	for _, e := range entities {
		if s.guard.PausedFor() > 0 {
			s.notify(ctx, channelID, "Entity activity is paused; stopping.")
			return nil
		}
		if err := s.sessionTurn(ctx, channelID, e); err != nil {
			s.notify(ctx, channelID, fmt.Sprintf("**%s** is unavailable right now.", e.Name))
		}
	}
	return nil
}
