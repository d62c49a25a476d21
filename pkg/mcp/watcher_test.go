package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type signalReloader chan struct{}

func (s signalReloader) ReloadAllServers(context.Context) (*ReloadAllResult, error) {
	select {
	case s <- struct{}{}:
	default:
	}
	return &ReloadAllResult{Success: true}, nil
}

func TestWatchServersFile_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(signalReloader, 1)
	done := make(chan error, 1)
	go func() { done <- WatchServersFile(ctx, path, reloads) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"memory","command":"npx mem"}]`), 0o644))

	select {
	case <-reloads:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload after the file changed")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchServersFile_MissingDirectory(t *testing.T) {
	err := WatchServersFile(context.Background(), filepath.Join(t.TempDir(), "nope", "servers.json"), make(signalReloader, 1))
	require.Error(t, err)
}
