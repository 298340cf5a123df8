package testutil

import (
	"time"

	"github.com/hupe1980/chatmesh/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().From("alice").Text("hey @sage").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	id        string
	channelID string
	author    core.Speaker
	text      string
	replyToID string
	timestamp time.Time
}

// NewMessageBuilder creates a builder for a user message in channel "chan-1".
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		channelID: "chan-1",
		author:    core.UserSpeaker("user-1", "Alice"),
		timestamp: time.Now(),
	}
}

// ID overrides the auto-generated message ID (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// Channel sets the channel ID (chainable).
func (b *MessageBuilder) Channel(id string) *MessageBuilder { b.channelID = id; return b }

// From sets a user author by display name (chainable).
func (b *MessageBuilder) From(name string) *MessageBuilder {
	b.author = core.UserSpeaker("user-"+name, name)
	return b
}

// FromEntity sets an entity author by handle (chainable).
func (b *MessageBuilder) FromEntity(handle string) *MessageBuilder {
	b.author = core.EntitySpeaker(handle)
	return b
}

// Text sets the message body (chainable).
func (b *MessageBuilder) Text(text string) *MessageBuilder { b.text = text; return b }

// ReplyTo sets the replied-to message ID (chainable).
func (b *MessageBuilder) ReplyTo(id string) *MessageBuilder { b.replyToID = id; return b }

// At sets the timestamp (chainable).
func (b *MessageBuilder) At(t time.Time) *MessageBuilder { b.timestamp = t; return b }

// Build assembles the message, generating an ID when none was set.
func (b *MessageBuilder) Build() core.Message {
	id := b.id
	if id == "" {
		id = core.NewID()
	}
	return core.Message{
		ID:        id,
		ChannelID: b.channelID,
		Author:    b.author,
		Text:      b.text,
		ReplyToID: b.replyToID,
		Timestamp: b.timestamp,
	}
}

// Entity returns a minimal valid entity for tests.
func Entity(handle string) core.Entity {
	return core.Entity{
		Handle:       handle,
		Name:         handle,
		Instructions: "You are " + handle + ".",
		Model:        core.DefaultModel,
		Temperature:  core.DefaultTemperature,
	}
}

// Snapshot builds a snapshot from handles, in the given order.
func Snapshot(handles ...string) *core.Snapshot {
	entities := make([]core.Entity, 0, len(handles))
	for _, h := range handles {
		entities = append(entities, Entity(h))
	}
	return core.NewSnapshot(entities)
}
