package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultPollInterval re-renders watch output even without file events, so
// lazily expired entries drop out.
const defaultPollInterval = 5 * time.Second

// watchDirs are the directories whose changes trigger a redraw.
func watchDirs(a *app) []string {
	dirs := []string{a.stack.Files().Dir()}
	if a.stack.DB() != nil {
		dirs = append(dirs, filepath.Dir(a.stack.Paths().DBPath))
	}
	return dirs
}

// watchLoop calls render once, then after every debounced change under
// dirs and every poll interval, until ctx is done. Without a watcher it
// falls back to polling only.
func watchLoop(ctx context.Context, log *slog.Logger, dirs []string, poll time.Duration, render func() error) error {
	if err := render(); err != nil {
		return err
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher := initWatcher(log, dirs); watcher != nil {
		defer func() { _ = watcher.Close() }()
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	debounce := newDebounceTimer()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			resetDebounceTimer(debounce)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn("fsnotify: watcher error, polling only", "error", err)
			events, errs = nil, nil
		case <-debounce.C:
			if err := render(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := render(); err != nil {
				return err
			}
		}
	}
}

// initWatcher watches every existing dir. It returns nil when no watcher
// could be set up.
func initWatcher(log *slog.Logger, dirs []string) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify: failed to create watcher, falling back to polling", "error", err)
		return nil
	}
	added := 0
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log.Warn("fsnotify: failed to watch dir", "dir", dir, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		_ = watcher.Close()
		return nil
	}
	return watcher
}

// newDebounceTimer creates a stopped timer for debouncing file events.
func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	return timer
}

// resetDebounceTimer restarts the debounce window after an event.
func resetDebounceTimer(timer *time.Timer) {
	const debounceDuration = 100 * time.Millisecond
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}
