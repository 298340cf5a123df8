// Package scheduler drives the response pipeline: single-response handling
// of resolved mentions (concurrent across entities, serialized per entity),
// bounded automatic cross-entity reply cascades, and explicit multi-turn
// conversation sessions advancing strictly round-robin under a turn budget.
//
// Ordering guarantees:
//   - a single entity's responses never run concurrently with each other
//   - turns within a conversation session are strictly sequential
//   - across unrelated entities there is no ordering guarantee
//
// Cancellation of a session is cooperative: the flag is checked between
// turns, never mid-call; an in-flight model call is allowed to finish.
package scheduler
