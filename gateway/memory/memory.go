// Package memory provides an in-process core.Gateway backed by per-channel
// message rings. It is the gateway used by tests, the runnable examples and
// the CLI's local mode; semantics (chronological bounded history, emit with
// generated ids, reply lookup) mirror what platform adapters provide.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/chatmesh/core"
)

// DefaultHistoryCap bounds how many messages a channel retains.
const DefaultHistoryCap = 500

// Options configures a Hub.
type Options struct {
	// HistoryCap bounds per-channel retention.
	HistoryCap int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Hub is an in-memory gateway. Safe for concurrent use.
type Hub struct {
	cap int
	now func() time.Time

	mu       sync.RWMutex
	channels map[string][]core.Message
	byID     map[string]core.Message
	subs     map[int]chan core.Message
	nextSub  int
}

// NewHub creates an empty Hub.
func NewHub(optFns ...func(o *Options)) *Hub {
	opts := Options{HistoryCap: DefaultHistoryCap, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Hub{
		cap:      opts.HistoryCap,
		now:      opts.Now,
		channels: make(map[string][]core.Message),
		byID:     make(map[string]core.Message),
		subs:     make(map[int]chan core.Message),
	}
}

// Recent implements core.Gateway.
func (h *Hub) Recent(_ context.Context, channelID string, limit int) ([]core.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.channels[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Emit implements core.Gateway.
func (h *Hub) Emit(_ context.Context, channelID string, speaker core.Speaker, text string) (string, error) {
	msg := core.Message{
		ID:        core.NewID(),
		ChannelID: channelID,
		Author:    speaker,
		Text:      text,
		Timestamp: h.now(),
	}
	h.append(msg)
	return msg.ID, nil
}

// Lookup implements core.Gateway.
func (h *Hub) Lookup(_ context.Context, _ string, messageID string) (core.Message, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, ok := h.byID[messageID]
	return msg, ok, nil
}

// Post injects an externally authored message (a user line in tests or the
// local CLI) and returns its id. The message is assigned an id and timestamp
// if missing.
func (h *Hub) Post(msg core.Message) string {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	h.append(msg)
	return msg.ID
}

// Subscribe returns a channel receiving every message appended to the hub
// (both posted and emitted) plus a cancel function releasing it. Slow
// subscribers drop messages rather than blocking emitters.
func (h *Hub) Subscribe() (<-chan core.Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	ch := make(chan core.Message, 64)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *Hub) append(msg core.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := append(h.channels[msg.ChannelID], msg)
	if len(msgs) > h.cap {
		drop := msgs[0]
		delete(h.byID, drop.ID)
		msgs = msgs[1:]
	}
	h.channels[msg.ChannelID] = msgs
	h.byID[msg.ID] = msg
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
