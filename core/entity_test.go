package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_GetCaseInsensitive(t *testing.T) {
	snap := NewSnapshot([]Entity{{Handle: "anna", Name: "Anna"}})

	for _, handle := range []string{"anna", "Anna", "ANNA"} {
		e, ok := snap.Get(handle)
		require.True(t, ok, "lookup %q", handle)
		assert.Equal(t, "anna", e.Handle)
	}

	_, ok := snap.Get("tomas")
	assert.False(t, ok)
}

func TestSnapshot_OrderPreserved(t *testing.T) {
	snap := NewSnapshot([]Entity{{Handle: "zoe"}, {Handle: "anna"}, {Handle: "milo"}})

	assert.Equal(t, []string{"zoe", "anna", "milo"}, snap.Handles())
	assert.Equal(t, 3, snap.Len())

	entities := snap.Entities()
	require.Len(t, entities, 3)
	assert.Equal(t, "zoe", entities[0].Handle)
}

func TestSnapshot_HandlesReturnsCopy(t *testing.T) {
	snap := NewSnapshot([]Entity{{Handle: "anna"}})

	handles := snap.Handles()
	handles[0] = "mutated"

	assert.Equal(t, []string{"anna"}, snap.Handles())
}

func TestEmptySnapshot(t *testing.T) {
	snap := EmptySnapshot()

	assert.Zero(t, snap.Len())
	assert.Empty(t, snap.Handles())
	_, ok := snap.Get("anyone")
	assert.False(t, ok)
}

func TestEntity_HasOverride(t *testing.T) {
	assert.False(t, Entity{Handle: "anna"}.HasOverride())
	assert.True(t, Entity{Handle: "anna", APIURL: "https://example.com"}.HasOverride())
	assert.True(t, Entity{Handle: "anna", APIKey: "sk-x"}.HasOverride())
}

func TestSpeakers(t *testing.T) {
	user := UserSpeaker("u1", "Dana")
	assert.Equal(t, SpeakerUser, user.Kind)
	assert.False(t, user.IsEntity())
	assert.Equal(t, "Dana", user.DisplayName())

	entity := EntitySpeaker("anna")
	assert.True(t, entity.IsEntity())
	assert.Equal(t, "anna", entity.DisplayName())
	assert.Equal(t, entity, Entity{Handle: "anna"}.Speaker())

	system := SystemSpeaker()
	assert.Equal(t, SpeakerSystem, system.Kind)
	assert.False(t, system.IsEntity())
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
	assert.NotEmpty(t, NewID())
}
