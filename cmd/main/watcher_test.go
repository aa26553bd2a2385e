package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestCorpusWatcher(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "corpus.txt")
	require.NoError(t, os.WriteFile(corpusPath, []byte("first line\n"), 0644))

	reloads := make(chan struct{}, 8)
	reload := func(ctx context.Context) error {
		reloads <- struct{}{}
		// A failing reload is logged and does not stop the watcher.
		return errors.New("rebuild failed")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	watcher, err := NewCorpusWatcher(corpusPath, 20*time.Millisecond, reload, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("unrelated"), 0644))
	select {
	case <-reloads:
		t.Fatal("a change to another file triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}

	for range 2 {
		require.NoError(t, os.WriteFile(corpusPath, []byte("first line\nsecond line\n"), 0644))
		select {
		case <-reloads:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a reload after the corpus changed")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after the context was canceled")
	}
}

func TestCorpusWatcher_MissingDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewCorpusWatcher(filepath.Join(t.TempDir(), "missing", "corpus.txt"), time.Millisecond, nil, logger)
	assert.Error(t, err)
}
