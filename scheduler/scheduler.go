package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/guard"
	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/mention"
	"github.com/hupe1980/chatmesh/model"
	"github.com/hupe1980/chatmesh/prompt"
)

// DefaultTurnBudget is the number of turns a conversation session runs when
// no count is given.
const DefaultTurnBudget = 10

// Caller abstracts the model router: resolve the entity's call target and
// perform one completion call.
type Caller interface {
	Call(ctx context.Context, e core.Entity, req model.Request) (string, error)
}

// SnapshotProvider supplies the active registry snapshot. Each pipeline run
// grabs one snapshot up front and uses it throughout, so a concurrent reload
// never produces a half-updated view.
type SnapshotProvider interface {
	Snapshot() *core.Snapshot
}

// Options configures a Scheduler.
type Options struct {
	// HistoryLimit bounds the channel history fetched per response.
	HistoryLimit int
	// TurnBudget is the default turn count for conversation sessions.
	TurnBudget int
	// TurnDelay inserts a pause between session turns. Zero by default so
	// tests stay fast; interactive deployments typically set a few seconds.
	TurnDelay time.Duration
	// Assembler overrides the context assembler.
	Assembler *prompt.Assembler
	// Logger receives pipeline diagnostics.
	Logger logging.Logger
}

// Scheduler owns response scheduling. Safe for concurrent use; the only
// mutable state (per-entity locks, the active session) is mutex-guarded.
type Scheduler struct {
	gateway   core.Gateway
	snapshots SnapshotProvider
	caller    Caller
	guard     *guard.Guard
	assembler *prompt.Assembler
	logger    logging.Logger

	historyLimit int
	turnBudget   int
	turnDelay    time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sessionMu sync.Mutex
	session   *Session

	wg sync.WaitGroup
}

// New creates a Scheduler.
func New(gw core.Gateway, snapshots SnapshotProvider, caller Caller, g *guard.Guard, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		HistoryLimit: prompt.DefaultHistoryLimit,
		TurnBudget:   DefaultTurnBudget,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Assembler == nil {
		opts.Assembler = prompt.NewAssembler(func(o *prompt.Options) {
			o.HistoryLimit = opts.HistoryLimit
		})
	}
	return &Scheduler{
		gateway:      gw,
		snapshots:    snapshots,
		caller:       caller,
		guard:        g,
		assembler:    opts.Assembler,
		logger:       opts.Logger,
		historyLimit: opts.HistoryLimit,
		turnBudget:   opts.TurnBudget,
		turnDelay:    opts.TurnDelay,
		locks:        make(map[string]*sync.Mutex),
	}
}

// HandleMessage runs the pipeline for one inbound message: resolve the
// mention set (including the reply target), pass the flood/loop guard and
// schedule one independent response per addressed entity. The call returns
// as soon as scheduling is done; responses complete asynchronously.
//
// Messages authored by entities are ignored here: cascades triggered by
// entity output are scheduled internally after each emit, with the hop count
// threaded through, so feeding emitted messages back in would double-trigger.
func (s *Scheduler) HandleMessage(ctx context.Context, msg core.Message) {
	if msg.Author.IsEntity() {
		s.logger.Debug("ignoring entity-authored inbound message", "channel_id", msg.ChannelID)
		return
	}

	snap := s.snapshots.Snapshot()
	var replyAuthor *core.Speaker
	if msg.ReplyToID != "" {
		ref, ok, err := s.gateway.Lookup(ctx, msg.ChannelID, msg.ReplyToID)
		if err != nil {
			s.logger.Warn("reply target lookup failed", "channel_id", msg.ChannelID, "message_id", msg.ReplyToID, "error", err)
		} else if ok {
			replyAuthor = &ref.Author
		}
	}

	set := mention.Resolve(msg.Text, replyAuthor, snap)
	if set.Empty() {
		return
	}
	s.logger.Info("mentions resolved", "channel_id", msg.ChannelID, "handles", strings.Join(set.Handles, ","), "reply_target", set.ReplyTarget)

	s.dispatch(ctx, msg.ChannelID, snap, set, 0)
}

// Wait blocks until all scheduled single responses have completed. Intended
// for tests and graceful shutdown.
func (s *Scheduler) Wait() { s.wg.Wait() }

// dispatch schedules one response per handle in the set, in resolved order.
// hop is 0 for user-triggered responses and increments per automatic
// cross-entity trigger.
func (s *Scheduler) dispatch(ctx context.Context, channelID string, snap *core.Snapshot, set mention.Set, hop int) {
	if !s.guard.AllowHop(hop) {
		s.logger.Info("cascade stopped at hop cap", "channel_id", channelID, "hop", hop)
		return
	}

	for _, handle := range set.Handles {
		entity, ok := snap.Get(handle)
		if !ok {
			continue
		}
		if s.partOfActiveSession(channelID, handle) {
			s.logger.Debug("entity busy in conversation session", "entity", handle)
			continue
		}

		decision := s.guard.Allow(channelID)
		if decision.Reason == guard.ReasonPaused {
			if decision.Notify {
				s.notify(ctx, channelID, "Entity activity is paused; dropping mentions until it resumes.")
			}
			return
		}
		if !decision.Allowed {
			continue
		}

		s.wg.Add(1)
		go func(e core.Entity) {
			defer s.wg.Done()
			s.respond(ctx, channelID, e, hop)
		}(entity)
	}
}

// respond generates and emits one response for an entity, holding the
// entity's serialization lock for the duration so a doubly-mentioned entity
// answers twice in order rather than concurrently.
func (s *Scheduler) respond(ctx context.Context, channelID string, e core.Entity, hop int) {
	unlock := s.lockEntity(e.Handle)
	defer unlock()

	text, err := s.generate(ctx, channelID, e)
	if err != nil {
		s.notify(ctx, channelID, fmt.Sprintf("**%s** is unavailable right now.", e.Name))
		return
	}
	if text == "" {
		s.logger.Debug("empty completion discarded", "entity", e.Handle)
		return
	}

	if _, err := s.gateway.Emit(ctx, channelID, e.Speaker(), text); err != nil {
		s.logger.Error("emit failed", "entity", e.Handle, "channel_id", channelID, "error", err)
		return
	}

	s.cascade(ctx, channelID, e, text, hop)
}

// generate fetches bounded history, assembles the context window and calls
// the entity's model. These are the pipeline's only suspension points.
func (s *Scheduler) generate(ctx context.Context, channelID string, e core.Entity) (string, error) {
	history, err := s.gateway.Recent(ctx, channelID, s.historyLimit)
	if err != nil {
		s.logger.Error("history fetch failed", "channel_id", channelID, "error", err)
		return "", err
	}

	req := s.assembler.Assemble(e, history)
	start := time.Now()
	text, err := s.caller.Call(ctx, e, req)
	if err != nil {
		s.logger.Error("completion failed", "entity", e.Handle, "model", e.Model, "duration", time.Since(start), "error", err)
		return "", err
	}
	s.logger.Info("response generated", "entity", e.Handle, "channel_id", channelID, "duration", time.Since(start))
	return strings.TrimSpace(text), nil
}

// cascade re-enters the pipeline when an entity's output mentions other
// entities, bounded by the guard's hop cap. The author never re-triggers
// itself from its own line.
func (s *Scheduler) cascade(ctx context.Context, channelID string, author core.Entity, text string, hop int) {
	next := hop + 1
	if !s.guard.AllowHop(next) {
		return
	}

	snap := s.snapshots.Snapshot()
	set := mention.Resolve(text, nil, snap)
	filtered := set.Handles[:0]
	for _, h := range set.Handles {
		if h != author.Handle {
			filtered = append(filtered, h)
		}
	}
	set.Handles = filtered
	if set.Empty() {
		return
	}

	s.logger.Info("entity output triggers follow-up", "channel_id", channelID, "author", author.Handle, "handles", strings.Join(set.Handles, ","), "hop", next)
	s.dispatch(ctx, channelID, snap, set, next)
}

// notify posts a short system notice, best effort.
func (s *Scheduler) notify(ctx context.Context, channelID, text string) {
	if _, err := s.gateway.Emit(ctx, channelID, core.SystemSpeaker(), text); err != nil {
		s.logger.Warn("notice emit failed", "channel_id", channelID, "error", err)
	}
}

func (s *Scheduler) lockEntity(handle string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[handle]
	if !ok {
		l = &sync.Mutex{}
		s.locks[handle] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Scheduler) partOfActiveSession(channelID, handle string) bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.session == nil || s.session.State() != SessionActive {
		return false
	}
	if s.session.ChannelID != channelID {
		return false
	}
	for _, h := range s.session.Participants {
		if h == handle {
			return true
		}
	}
	return false
}
