package credential

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const (
	watchDebounceInterval = 300 * time.Millisecond
	// selfWriteGrace ignores watcher events caused by our own saves.
	selfWriteGrace = 2 * time.Second
)

// WatchFile reloads the manager when path is edited by someone else. It
// blocks until ctx ends and is meant to run as a runtime task.
func (m *Manager) WatchFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("token watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory so rename-based atomic writes are seen
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("token watcher: watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)
	log.WithField("path", target).Info("token manager: watching token file")

	var timer *time.Timer
	var timerCh <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerCh = nil, nil
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			stopTimer()
			timer = time.NewTimer(watchDebounceInterval)
			timerCh = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("token watcher error")
		case <-timerCh:
			timer, timerCh = nil, nil
			if m.recentlySaved() {
				continue
			}
			if err := m.Reload(ctx); err != nil {
				log.WithError(err).Warn("token manager: reload after external edit failed")
			}
		}
	}
}

func (m *Manager) recentlySaved() bool {
	last := m.selfWrite.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < selfWriteGrace
}
