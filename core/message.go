package core

import (
	"time"

	"github.com/google/uuid"
)

// SpeakerKind distinguishes the two possible authors of a chat line.
type SpeakerKind string

const (
	// SpeakerUser marks a line written by a human user.
	SpeakerUser SpeakerKind = "user"
	// SpeakerEntity marks a line written by a configured entity.
	SpeakerEntity SpeakerKind = "entity"
	// SpeakerSystem marks operational notices emitted by the engine itself
	// (pause notices, session status). Never attributed to an entity.
	SpeakerSystem SpeakerKind = "system"
)

// Speaker is a tagged variant identifying the author of a message: either a
// user (platform id + display name) or an entity (registry handle). Carrying
// the kind explicitly avoids loose string conventions when transcripts are
// rebuilt for completion calls.
type Speaker struct {
	Kind   SpeakerKind `json:"kind"`
	UserID string      `json:"user_id,omitempty"`
	Name   string      `json:"name,omitempty"`
	Handle string      `json:"handle,omitempty"`
}

// UserSpeaker creates a Speaker for a human user.
func UserSpeaker(id, name string) Speaker {
	return Speaker{Kind: SpeakerUser, UserID: id, Name: name}
}

// EntitySpeaker creates a Speaker for the entity with the given handle.
func EntitySpeaker(handle string) Speaker {
	return Speaker{Kind: SpeakerEntity, Handle: handle}
}

// SystemSpeaker creates the Speaker used for engine notices.
func SystemSpeaker() Speaker {
	return Speaker{Kind: SpeakerSystem, Name: "system"}
}

// IsEntity reports whether the speaker is an entity.
func (s Speaker) IsEntity() bool { return s.Kind == SpeakerEntity }

// DisplayName returns the name to attribute lines to in a transcript.
func (s Speaker) DisplayName() string {
	if s.Kind == SpeakerEntity {
		return s.Handle
	}
	if s.Name != "" {
		return s.Name
	}
	return s.UserID
}

// Message is one inbound or historical chat line. Messages are produced by a
// Gateway and are read-only to the engine; after construction they should be
// treated as immutable.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Author    Speaker   `json:"author"`
	Text      string    `json:"text"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID generates a new unique identifier for messages and sessions.
func NewID() string { return uuid.NewString() }
