// Package core provides the foundational domain types and interfaces used by
// ChatMesh. It defines the core abstractions for:
//
//   - Entities (configured AI personas addressable via @handle)
//   - Registry snapshots (immutable point-in-time entity sets)
//   - Messages and speakers (attributed chat transcript units)
//   - The Gateway interface (history fetch, message emit, reply lookup)
//   - The shared error taxonomy (load-time config errors, session busy)
//
// The package intentionally keeps implementation concerns (definition loading,
// scheduling, model routing, platform adapters) out of scope, exposing small
// types and interfaces so other packages can depend on a stable center.
package core
