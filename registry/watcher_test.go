package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anna.yaml", "handle: anna\n")

	reg := New(dir)
	_, _, err := reg.Reload()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() { watchDone <- reg.Watch(ctx) }()

	// Give the watcher a moment to register before mutating the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "tomas.yaml", "handle: tomas\n")

	require.Eventually(t, func() bool {
		return reg.Snapshot().Len() == 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-watchDone, context.Canceled)
}

func TestWatch_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anna.yaml", "handle: anna\n")

	reg := New(dir)
	_, _, err := reg.Reload()
	require.NoError(t, err)
	loadedAt := reg.LoadedAt()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = reg.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "notes.txt", "not a definition\n")

	// No reload should happen for a non-definition file.
	time.Sleep(watchDebounce + 200*time.Millisecond)
	assert.Equal(t, loadedAt, reg.LoadedAt())
}
