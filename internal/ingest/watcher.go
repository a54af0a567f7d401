package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers scan cycles when files land in the local unprocessed
// folder, instead of waiting for the next poll. Events are debounced so a
// multi-file drop causes one scan.
type Watcher struct {
	Dir      string
	Debounce time.Duration
	Trigger  func(ctx context.Context)
	Logger   *slog.Logger
}

// Run blocks until ctx is cancelled. The debounce window defaults to two
// seconds, which also gives uploads a moment to finish before scanning.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Debounce <= 0 {
		w.Debounce = 2 * time.Second
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return err
	}
	w.Logger.Info("watching drop folder", "dir", w.Dir)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
				fire = timer.C
			} else {
				timer.Reset(w.Debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Error("watch error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			w.Trigger(ctx)
		}
	}
}
