package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/chatmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoad_JSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anna.json", `{"handle": "Anna", "name": "Anna", "instructions": "Be Anna.", "model": "gpt-4.1"}`)
	writeFile(t, dir, "tomas.yaml", "handle: tomas\ninstructions: Be Tomas.\ntemperature: 1.2\n")

	snap, issues, err := Load(dir)

	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Equal(t, 2, snap.Len())

	anna, ok := snap.Get("anna")
	require.True(t, ok)
	assert.Equal(t, "anna", anna.Handle, "handles are lowercased")
	assert.Equal(t, "gpt-4.1", anna.Model)
	assert.Equal(t, core.DefaultTemperature, anna.Temperature)

	tomas, ok := snap.Get("tomas")
	require.True(t, ok)
	assert.Equal(t, "tomas", tomas.Name, "name defaults to handle")
	assert.Equal(t, core.DefaultModel, tomas.Model)
	assert.Equal(t, 1.2, tomas.Temperature)
}

func TestLoad_BadFileSkipsOnlyThatFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anna.json", `{"handle": "anna", "instructions": "Be Anna."}`)
	writeFile(t, dir, "broken.json", `{"handle": `)
	writeFile(t, dir, "nohandle.yaml", "name: Ghost\n")

	snap, issues, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	require.Len(t, issues, 2)

	var cfgErr *core.ConfigError
	for _, issue := range issues {
		assert.True(t, errors.As(issue.Err, &cfgErr), "issue for %s carries a config error", issue.File)
	}
}

func TestLoad_RejectsBadAPIURL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anna.yaml", "handle: anna\napi_url: ftp://example.com\n")
	writeFile(t, dir, "tomas.yaml", "handle: tomas\napi_url: https://example.com/v1\n")

	snap, issues, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	require.Len(t, issues, 1)
	assert.Equal(t, "anna.yaml", issues[0].File)

	tomas, ok := snap.Get("tomas")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/v1", tomas.APIURL)
}

func TestLoad_RejectsTemperatureOutOfRange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hot.yaml", "handle: hot\ntemperature: 2.5\n")

	snap, issues, err := Load(dir)

	require.NoError(t, err)
	assert.Zero(t, snap.Len())
	require.Len(t, issues, 1)
}

func TestLoad_DuplicateHandleFirstWins(t *testing.T) {
	dir := t.TempDir()
	// Lexical file order decides which definition claims the handle.
	writeFile(t, dir, "a_anna.yaml", "handle: anna\nname: First Anna\n")
	writeFile(t, dir, "b_anna.yaml", "handle: anna\nname: Second Anna\n")

	snap, issues, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())

	anna, _ := snap.Get("anna")
	assert.Equal(t, "First Anna", anna.Name)

	require.Len(t, issues, 1)
	assert.Equal(t, "b_anna.yaml", issues[0].File)
	assert.Contains(t, issues[0].Err.Error(), "duplicate handle")
}

func TestLoad_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anna.yaml", "handle: anna\n")
	writeFile(t, dir, "README.md", "# not an entity\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	snap, issues, err := Load(dir)

	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, 1, snap.Len())
}

func TestLoad_UnreadableDir(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, err)
}

func TestSnapshot_LoadOrderPreserved(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "01_zoe.yaml", "handle: zoe\n")
	writeFile(t, dir, "02_anna.yaml", "handle: anna\n")

	snap, _, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{"zoe", "anna"}, snap.Handles())
}

func TestRegistry_ReloadSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anna.yaml", "handle: anna\n")

	reg := New(dir)
	assert.Zero(t, reg.Snapshot().Len(), "empty before first reload")

	snap, issues, err := reg.Reload()
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, 1, snap.Len())
	assert.Same(t, snap, reg.Snapshot())
	assert.False(t, reg.LoadedAt().IsZero())

	// An in-flight run keeps its snapshot across a reload.
	held := reg.Snapshot()
	writeFile(t, dir, "tomas.yaml", "handle: tomas\n")
	_, _, err = reg.Reload()
	require.NoError(t, err)

	assert.Equal(t, 1, held.Len())
	assert.Equal(t, 2, reg.Snapshot().Len())
}

func TestRegistry_ReloadIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anna.yaml", "handle: anna\n")
	writeFile(t, dir, "broken.json", `{`)

	reg := New(dir)
	first, firstIssues, err := reg.Reload()
	require.NoError(t, err)
	second, secondIssues, err := reg.Reload()
	require.NoError(t, err)

	assert.Equal(t, first.Handles(), second.Handles())

	// An unchanged directory yields the same validation report too.
	require.Len(t, firstIssues, 1)
	require.Len(t, secondIssues, 1)
	assert.Equal(t, firstIssues[0].File, secondIssues[0].File)
	assert.Equal(t, firstIssues[0].Err.Error(), secondIssues[0].Err.Error())
}

func TestRegistry_IssuesReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `{`)

	reg := New(dir)
	_, _, err := reg.Reload()
	require.NoError(t, err)

	issues := reg.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "broken.json", issues[0].File)
}
