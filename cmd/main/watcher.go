package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CorpusWatcher rebuilds the chain when the corpus file changes. Rapid
// successive writes are coalesced into one rebuild.
type CorpusWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	reload   func(ctx context.Context) error
	logger   *slog.Logger
}

// NewCorpusWatcher watches the directory holding path, so editors that replace
// the file by renaming are still noticed.
func NewCorpusWatcher(path string, debounce time.Duration, reload func(ctx context.Context) error, logger *slog.Logger) (*CorpusWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err = watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch corpus directory: %w", err)
	}
	return &CorpusWatcher{
		watcher:  watcher,
		path:     absPath,
		debounce: debounce,
		reload:   reload,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is canceled, then closes the watcher.
func (cw *CorpusWatcher) Run(ctx context.Context) error {
	defer func() {
		if err := cw.watcher.Close(); err != nil {
			cw.logger.Error("CorpusWatcher: error closing watcher", "error", err)
		}
	}()

	timer := time.NewTimer(cw.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	cw.logger.Info("Watching corpus for changes", "path", cw.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if !cw.relevant(event) {
				continue
			}
			cw.logger.Debug("Corpus changed", "op", event.Op.String())
			timer.Reset(cw.debounce)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			cw.logger.Error("CorpusWatcher error", "error", err)

		case <-timer.C:
			if err := cw.reload(ctx); err != nil {
				cw.logger.Error("Corpus reload failed, keeping current chain", "error", err)
			}
		}
	}
}

func (cw *CorpusWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != cw.path {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}
