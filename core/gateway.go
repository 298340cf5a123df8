package core

import "context"

// Gateway abstracts the chat platform the engine is attached to. The engine
// consumes a stream of inbound messages from the gateway (delivery is the
// adapter's concern), fetches bounded history for context assembly and posts
// entity responses back through Emit.
//
// Implementations must be safe for concurrent use: distinct pipeline runs may
// fetch history and emit responses at the same time.
type Gateway interface {
	// Recent returns up to limit prior messages for a channel in
	// chronological order (oldest first).
	Recent(ctx context.Context, channelID string, limit int) ([]Message, error)

	// Emit posts text to a channel attributed to the given speaker and
	// returns the posted message id.
	Emit(ctx context.Context, channelID string, speaker Speaker, text string) (string, error)

	// Lookup fetches a single message by id, used to resolve reply targets.
	// The boolean is false when the message cannot be found.
	Lookup(ctx context.Context, channelID, messageID string) (Message, bool, error)
}
