// Package chatmesh provides a high-level façade over the entity interaction
// engine: registry, flood/loop guard, model router and turn scheduler wired
// together behind one type. Most applications interact with this package by:
//  1. Creating a ChatMesh via New() with a gateway and an entity directory
//  2. Feeding inbound messages into HandleMessage (usually from the gateway's
//     receive loop)
//  3. Driving the operational surface (reload, status, conversations, pause)
//     from a thin command layer
//
// All defaults are safe for local development and testing; production
// deployments typically supply provider credentials via router defaults and
// a structured logger.
package chatmesh

import (
	"context"
	"time"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/guard"
	"github.com/hupe1980/chatmesh/logging"
	"github.com/hupe1980/chatmesh/registry"
	"github.com/hupe1980/chatmesh/router"
	"github.com/hupe1980/chatmesh/scheduler"
)

// Options configures the ChatMesh instance.
type Options struct {
	// HistoryLimit bounds the context window per completion call.
	HistoryLimit int
	// TurnBudget is the default turn count for conversation sessions.
	TurnBudget int
	// TurnDelay spaces out session turns.
	TurnDelay time.Duration
	// MaxHops caps automatic cross-entity reply cascades.
	MaxHops int
	// FloodWindow / FloodBurst bound scheduled responses per channel.
	FloodWindow time.Duration
	FloodBurst  int
	// PauseDuration is the default pause length.
	PauseDuration time.Duration
	// Defaults are the global model call parameters used when an entity
	// carries no override.
	Defaults router.Defaults
	// CallTimeout bounds one completion call.
	CallTimeout time.Duration
	// Caller overrides the model router (tests plug a mock here).
	Caller scheduler.Caller
	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ChatMesh is the high-level façade aggregating the engine components.
type ChatMesh struct {
	gateway   core.Gateway
	registry  *registry.Registry
	guard     *guard.Guard
	scheduler *scheduler.Scheduler
	logger    logging.Logger
}

// Status is the operational report consumed by command layers.
type Status struct {
	EntityCount    int
	CustomEndpoint []string // handles with a custom api_url
	CustomKey      []string // handles with a custom api_key
	PausedFor      time.Duration
	Session        *scheduler.SessionInfo
	LoadIssues     []registry.LoadIssue
	LoadedAt       time.Time
}

// New creates a ChatMesh instance bound to a gateway and an entity definition
// directory, performing the initial registry load. Per-file definition
// problems are reported via Status and logs, never as a construction error;
// only an unreadable directory fails.
func New(gw core.Gateway, entityDir string, optFns ...func(o *Options)) (*ChatMesh, error) {
	opts := Options{
		TurnBudget:    scheduler.DefaultTurnBudget,
		MaxHops:       guard.DefaultMaxHops,
		FloodWindow:   guard.DefaultWindow,
		FloodBurst:    guard.DefaultBurst,
		PauseDuration: guard.DefaultPauseDuration,
		CallTimeout:   router.DefaultCallTimeout,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	reg := registry.New(entityDir, func(o *registry.Options) { o.Logger = opts.Logger })
	if _, _, err := reg.Reload(); err != nil {
		return nil, err
	}

	g := guard.New(func(o *guard.Options) {
		o.Window = opts.FloodWindow
		o.Burst = opts.FloodBurst
		o.MaxHops = opts.MaxHops
		o.PauseDuration = opts.PauseDuration
		o.Logger = opts.Logger
	})

	caller := opts.Caller
	if caller == nil {
		caller = router.New(func(o *router.Options) {
			o.Defaults = opts.Defaults
			o.CallTimeout = opts.CallTimeout
			o.Logger = opts.Logger
		})
	}

	sched := scheduler.New(gw, reg, caller, g, func(o *scheduler.Options) {
		if opts.HistoryLimit > 0 {
			o.HistoryLimit = opts.HistoryLimit
		}
		o.TurnBudget = opts.TurnBudget
		o.TurnDelay = opts.TurnDelay
		o.Logger = opts.Logger
	})

	return &ChatMesh{
		gateway:   gw,
		registry:  reg,
		guard:     g,
		scheduler: sched,
		logger:    opts.Logger,
	}, nil
}

// HandleMessage feeds one inbound message into the pipeline. Non-blocking
// beyond mention resolution and guard checks; responses complete
// asynchronously.
func (c *ChatMesh) HandleMessage(ctx context.Context, msg core.Message) {
	c.scheduler.HandleMessage(ctx, msg)
}

// Reload re-reads the entity directory and atomically swaps the active
// snapshot, returning the new entity count and the skip report.
func (c *ChatMesh) Reload() (int, []registry.LoadIssue, error) {
	snap, issues, err := c.registry.Reload()
	if err != nil {
		return 0, nil, err
	}
	return snap.Len(), issues, nil
}

// Watch auto-reloads the registry on filesystem changes until ctx ends.
func (c *ChatMesh) Watch(ctx context.Context) error { return c.registry.Watch(ctx) }

// Entities returns the active entities in load order.
func (c *ChatMesh) Entities() []core.Entity { return c.registry.Snapshot().Entities() }

// Entity looks up one entity by handle.
func (c *ChatMesh) Entity(handle string) (core.Entity, bool) {
	return c.registry.Snapshot().Get(handle)
}

// Status reports the operational state.
func (c *ChatMesh) Status() Status {
	snap := c.registry.Snapshot()
	st := Status{
		EntityCount: snap.Len(),
		PausedFor:   c.guard.PausedFor(),
		Session:     c.scheduler.ActiveSession(),
		LoadIssues:  c.registry.Issues(),
		LoadedAt:    c.registry.LoadedAt(),
	}
	for _, e := range snap.Entities() {
		if e.APIURL != "" {
			st.CustomEndpoint = append(st.CustomEndpoint, e.Handle)
		}
		if e.APIKey != "" {
			st.CustomKey = append(st.CustomKey, e.Handle)
		}
	}
	return st
}

// PausedFor reports the remaining pause duration, zero when active.
func (c *ChatMesh) PausedFor() time.Duration { return c.guard.PausedFor() }

// SessionInfo describes the active conversation session, nil when idle.
func (c *ChatMesh) SessionInfo() *scheduler.SessionInfo { return c.scheduler.ActiveSession() }

// LoadIssues reports per-file problems from the most recent registry load.
func (c *ChatMesh) LoadIssues() []registry.LoadIssue { return c.registry.Issues() }

// StartConversation begins a multi-turn session (see scheduler.StartConversation).
func (c *ChatMesh) StartConversation(ctx context.Context, channelID string, handles []string, turns int) (*scheduler.Session, error) {
	return c.scheduler.StartConversation(ctx, channelID, handles, turns)
}

// CancelConversation cancels the active session, if any.
func (c *ChatMesh) CancelConversation() error { return c.scheduler.CancelConversation() }

// Speak makes each listed entity respond once, in order.
func (c *ChatMesh) Speak(ctx context.Context, channelID string, handles ...string) error {
	return c.scheduler.Speak(ctx, channelID, handles...)
}

// Pause suspends all response scheduling for d (the configured default when
// d <= 0) and cancels any active conversation session.
func (c *ChatMesh) Pause(d time.Duration) {
	c.guard.Pause(d)
	if err := c.scheduler.CancelConversation(); err == nil {
		c.logger.Info("active conversation cancelled by pause")
	}
}

// Resume clears the pause state before expiry.
func (c *ChatMesh) Resume() { c.guard.Resume() }

// Wait blocks until in-flight responses have completed. Intended for tests
// and graceful shutdown.
func (c *ChatMesh) Wait() { c.scheduler.Wait() }
