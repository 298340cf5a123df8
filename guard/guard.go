// Package guard implements flood and loop suppression for the response
// pipeline: a process-wide pause state with expiry, a per-channel
// sliding-window trigger limiter and the hop cap bounding automatic
// entity-to-entity reply cascades. All mutable state lives behind a single
// mutex with an explicit API; nothing here is ambient or global.
package guard

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/chatmesh/logging"
)

// Defaults chosen conservatively; all are configurable.
const (
	// DefaultPauseDuration is how long a pause lasts when no duration is given.
	DefaultPauseDuration = 30 * time.Second
	// DefaultWindow is the sliding window for the per-channel trigger counter.
	DefaultWindow = 10 * time.Second
	// DefaultBurst is the maximum scheduled responses per channel per window.
	DefaultBurst = 8
	// DefaultMaxHops caps automatic cross-entity reply chains outside
	// explicit conversation sessions. One hop: an entity's response may
	// trigger mentioned entities once; their responses trigger nothing.
	DefaultMaxHops = 1
)

// Reason explains why a trigger was dropped.
type Reason string

const (
	// ReasonAllowed marks an admitted trigger.
	ReasonAllowed Reason = "allowed"
	// ReasonPaused marks a trigger dropped while activity is paused.
	ReasonPaused Reason = "paused"
	// ReasonFlooded marks a trigger dropped by the sliding-window limiter.
	ReasonFlooded Reason = "flooded"
)

// Decision is the outcome of one admission check. Notify is set at most once
// per pause period so users get a single notice, not one per dropped trigger.
type Decision struct {
	Allowed bool
	Reason  Reason
	Notify  bool
}

// Options configures a Guard.
type Options struct {
	Window        time.Duration
	Burst         int
	MaxHops       int
	PauseDuration time.Duration
	Logger        logging.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Guard is the single serialization point for pause state and per-channel
// trigger counters. Safe for concurrent use.
type Guard struct {
	window        time.Duration
	burst         int
	maxHops       int
	pauseDuration time.Duration
	logger        logging.Logger
	now           func() time.Time

	mu          sync.Mutex
	pausedUntil time.Time
	notified    bool
	limiters    map[string]*rate.Limiter
}

// New creates a Guard with optional overrides.
func New(optFns ...func(o *Options)) *Guard {
	opts := Options{
		Window:        DefaultWindow,
		Burst:         DefaultBurst,
		MaxHops:       DefaultMaxHops,
		PauseDuration: DefaultPauseDuration,
		Logger:        logging.NoOpLogger{},
		Now:           time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	return &Guard{
		window:        opts.Window,
		burst:         opts.Burst,
		maxHops:       opts.MaxHops,
		pauseDuration: opts.PauseDuration,
		logger:        opts.Logger,
		now:           opts.Now,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Allow decides whether one response may be scheduled for the channel now.
// Pause state is consulted first, then the channel's sliding-window counter.
// An admitted trigger consumes one token from the window.
func (g *Guard) Allow(channelID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.pausedUntil) {
		notify := !g.notified
		g.notified = true
		g.logger.Debug("trigger dropped while paused", "channel_id", channelID)
		return Decision{Reason: ReasonPaused, Notify: notify}
	}

	limiter, ok := g.limiters[channelID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(g.window/time.Duration(g.burst)), g.burst)
		g.limiters[channelID] = limiter
	}
	if !limiter.AllowN(now, 1) {
		g.logger.Warn("trigger dropped by flood limiter", "channel_id", channelID)
		return Decision{Reason: ReasonFlooded}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// AllowHop reports whether an automatic cross-entity reply at the given hop
// count may be scheduled. User-triggered responses are hop 0; each automatic
// trigger caused by an entity's output increments the count.
func (g *Guard) AllowHop(hop int) bool { return hop <= g.maxHops }

// Pause suspends all response scheduling for d (DefaultPauseDuration when
// d <= 0). A fresh pause re-arms the one-time notice.
func (g *Guard) Pause(d time.Duration) {
	if d <= 0 {
		d = g.pauseDuration
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pausedUntil = g.now().Add(d)
	g.notified = false
	g.logger.Info("activity paused", "duration", d)
}

// Resume clears the pause state before its expiry.
func (g *Guard) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pausedUntil = time.Time{}
	g.notified = false
	g.logger.Info("activity resumed")
}

// PausedFor returns the remaining pause duration, zero when active.
func (g *Guard) PausedFor() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if remaining := g.pausedUntil.Sub(g.now()); remaining > 0 {
		return remaining
	}
	return 0
}
