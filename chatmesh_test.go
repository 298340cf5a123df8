package chatmesh

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/gateway/memory"
	"github.com/hupe1980/chatmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCaller adapts a MockModel to the scheduler's Caller seam so façade
// tests run without provider credentials.
type mockCaller struct{ m *model.MockModel }

func (c mockCaller) Call(ctx context.Context, _ core.Entity, req model.Request) (string, error) {
	resp, err := c.m.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func writeEntityDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"anna.yaml":  "handle: anna\nname: Anna\ninstructions: Be Anna.\n",
		"tomas.yaml": "handle: tomas\nname: Tomas\ninstructions: Be Tomas.\napi_url: https://alt.example/v1\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func newTestMesh(t *testing.T, hub *memory.Hub, dir string) (*ChatMesh, *model.MockModel) {
	t.Helper()
	mock := model.NewMockModel("mock", "mock")
	mesh, err := New(hub, dir, func(o *Options) {
		o.Caller = mockCaller{m: mock}
	})
	require.NoError(t, err)
	return mesh, mock
}

func TestNew_LoadsEntities(t *testing.T) {
	mesh, _ := newTestMesh(t, memory.NewHub(), writeEntityDir(t))

	entities := mesh.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, "anna", entities[0].Handle)

	anna, ok := mesh.Entity("Anna")
	require.True(t, ok)
	assert.Equal(t, "Anna", anna.Name)
}

func TestNew_FailsOnMissingDirectory(t *testing.T) {
	_, err := New(memory.NewHub(), filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, err)
}

func TestHandleMessage_EndToEnd(t *testing.T) {
	hub := memory.NewHub()
	mesh, mock := newTestMesh(t, hub, writeEntityDir(t))
	mock.AddResponse("introduce", "Hello, I am Anna.")
	ctx := context.Background()

	msg := core.Message{
		ChannelID: "chan-1",
		Author:    core.UserSpeaker("u1", "Dana"),
		Text:      "@anna please introduce yourself",
	}
	msg.ID = hub.Post(msg)
	mesh.HandleMessage(ctx, msg)
	mesh.Wait()

	history, err := hub.Recent(ctx, "chan-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "anna", history[1].Author.Handle)
	assert.Equal(t, "Hello, I am Anna.", history[1].Text)
}

func TestStatus(t *testing.T) {
	mesh, _ := newTestMesh(t, memory.NewHub(), writeEntityDir(t))

	st := mesh.Status()

	assert.Equal(t, 2, st.EntityCount)
	assert.Equal(t, []string{"tomas"}, st.CustomEndpoint)
	assert.Empty(t, st.CustomKey)
	assert.Zero(t, st.PausedFor)
	assert.Nil(t, st.Session)
	assert.Empty(t, st.LoadIssues)
	assert.False(t, st.LoadedAt.IsZero())
}

func TestReload_PicksUpNewDefinitions(t *testing.T) {
	dir := writeEntityDir(t)
	mesh, _ := newTestMesh(t, memory.NewHub(), dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sage.yaml"), []byte("handle: sage\n"), 0o644))

	count, issues, err := mesh.Reload()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Empty(t, issues)
}

func TestPause_CancelsActiveConversation(t *testing.T) {
	hub := memory.NewHub()
	mesh, _ := newTestMesh(t, hub, writeEntityDir(t))
	ctx := context.Background()

	sess, err := mesh.StartConversation(ctx, "chan-1", nil, 50)
	require.NoError(t, err)

	mesh.Pause(time.Hour)
	<-sess.Done()
	mesh.Wait()

	assert.NotEqual(t, "active", string(sess.State()))
	assert.Positive(t, mesh.PausedFor())

	mesh.Resume()
	assert.Zero(t, mesh.PausedFor())
}

func TestSpeak_Facade(t *testing.T) {
	hub := memory.NewHub()
	mesh, mock := newTestMesh(t, hub, writeEntityDir(t))
	mock.AddResponse("Dana", "Noted.")
	ctx := context.Background()

	hub.Post(core.Message{ChannelID: "chan-1", Author: core.UserSpeaker("u1", "Dana"), Text: "summary please"})
	require.NoError(t, mesh.Speak(ctx, "chan-1", "tomas"))

	history, err := hub.Recent(ctx, "chan-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "tomas", history[1].Author.Handle)
}
