// Package model defines the completion model abstraction used by the router
// and scheduler, the normalized chat Request/Response structures, the typed
// provider failure taxonomy and a deterministic MockModel for tests. Concrete
// provider adapters live in the openai and anthropic subpackages.
package model
