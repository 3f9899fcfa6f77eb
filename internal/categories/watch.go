package categories

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the taxonomy when the backing file is edited outside the
// process. The directory is watched rather than the file so atomic replacements
// (ours included) keep being observed. Watch returns once the watch is armed.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	target := filepath.Clean(s.path)

	go func() {
		defer watcher.Close()
		timer := time.NewTimer(reloadDebounce)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					timer.Reset(reloadDebounce)
				}
			case <-timer.C:
				if _, err := s.Load(); err != nil {
					s.logger.Warn("ignoring unreadable category file", "err", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("category watcher error", "err", err)
			}
		}
	}()
	return nil
}
