package core

import "strings"

// DefaultModel is used when an entity definition omits the model field.
const DefaultModel = "gpt-4.1-mini"

// DefaultTemperature is used when an entity definition omits temperature.
const DefaultTemperature = 0.7

// Entity is an immutable-once-loaded record describing one AI persona.
// Handles are unique within a snapshot and matched case-insensitively on
// mention. Optional APIURL / APIKey override the router's global defaults;
// URL validity is checked at load time, never per call.
type Entity struct {
	Handle       string  `json:"handle"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Instructions string  `json:"instructions"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	APIURL       string  `json:"api_url,omitempty"`
	APIKey       string  `json:"api_key,omitempty"`
	Avatar       string  `json:"avatar,omitempty"`
}

// Speaker returns the entity's speaker identity for emitted messages.
func (e Entity) Speaker() Speaker { return EntitySpeaker(e.Handle) }

// HasOverride reports whether the entity carries a custom endpoint or key.
func (e Entity) HasOverride() bool { return e.APIURL != "" || e.APIKey != "" }

// Snapshot is an immutable mapping from handle to Entity plus the handle
// insertion order. A snapshot is built once by the registry and then shared
// read-only by all concurrent pipeline runs; reloads publish a fresh snapshot
// instead of mutating an existing one.
type Snapshot struct {
	entities map[string]Entity
	handles  []string
}

// NewSnapshot builds a snapshot from entities with already-unique handles,
// preserving slice order for iteration.
func NewSnapshot(entities []Entity) *Snapshot {
	s := &Snapshot{entities: make(map[string]Entity, len(entities))}
	for _, e := range entities {
		if _, dup := s.entities[e.Handle]; dup {
			continue
		}
		s.entities[e.Handle] = e
		s.handles = append(s.handles, e.Handle)
	}
	return s
}

// EmptySnapshot returns a snapshot containing no entities.
func EmptySnapshot() *Snapshot { return NewSnapshot(nil) }

// Get returns the entity for a handle, matching case-insensitively.
func (s *Snapshot) Get(handle string) (Entity, bool) {
	e, ok := s.entities[strings.ToLower(handle)]
	return e, ok
}

// Handles returns a copy of the handle list in load order.
func (s *Snapshot) Handles() []string {
	out := make([]string, len(s.handles))
	copy(out, s.handles)
	return out
}

// Entities returns the entities in load order.
func (s *Snapshot) Entities() []Entity {
	out := make([]Entity, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, s.entities[h])
	}
	return out
}

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int { return len(s.handles) }
