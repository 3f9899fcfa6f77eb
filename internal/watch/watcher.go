// Package watch submits new recordings for analysis as they land in the
// recordings directory.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"police_call_analytics/internal/logging"
	"police_call_analytics/internal/pipeline"
)

// Submitter queues a recording by file name.
type Submitter interface {
	Submit(ctx context.Context, filename string) bool
}

// Watcher monitors the recordings directory for new audio files.
type Watcher struct {
	dir     string
	enabled bool
	sink    Submitter
	logger  *slog.Logger
}

func New(dir string, enabled bool, sink Submitter, logger *slog.Logger) *Watcher {
	return &Watcher{dir: dir, enabled: enabled, sink: sink, logger: logging.OrDiscard(logger).With("component", "watcher")}
}

// Start begins watching until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.enabled {
		w.logger.Info("watcher disabled")
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				w.handle(ctx, evt)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "err", err)
			}
		}
	}()
	w.logger.Info("watching recordings", "dir", w.dir)
	return nil
}

func (w *Watcher) handle(ctx context.Context, evt fsnotify.Event) {
	if evt.Op&(fsnotify.Create|fsnotify.Rename) == 0 || !pipeline.IsAudio(evt.Name) {
		return
	}
	name := filepath.Base(evt.Name)
	if !w.sink.Submit(ctx, name) {
		w.logger.Warn("recording not queued", "filename", name)
	}
}
