package realm

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/nous/internal/apperr"
)

// Watch reindexes the realm whenever files change beneath it, until ctx is
// cancelled. Bursts of events are coalesced: a reindex runs once no event has
// arrived for debounce. New directories are added to the watch list as they
// appear. Subscribers registered with OnReindex see every committed pass.
func (r *Realm) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := r.addDirsRecursive(w, r.root); err != nil {
		return err
	}

	r.logger.Info("watcher: started", slog.String("root", r.root))

	// timer debounces reindexing.
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			r.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			timer, timerCh = nil, nil
			stats, err := r.Reindex(ctx)
			switch {
			case errors.Is(err, apperr.ErrLocked):
				r.logger.Warn("watcher: realm locked, retrying", slog.String("error", err.Error()))
				schedule()
			case err != nil && ctx.Err() == nil:
				r.logger.Warn("watcher: reindex failed", slog.String("error", err.Error()))
			case err == nil && stats.Changed():
				r.logger.Debug("watcher: reindexed", slog.Uint64("generation", stats.Generation))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if r.ignoredEvent(ev.Name) {
				continue
			}

			// --- Handle new directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := r.addDirsRecursive(w, ev.Name); addErr != nil {
						r.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						r.logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// ignoredEvent reports events under hidden entries, which include the
// metadata directory and atomic-write temp files.
func (r *Realm) ignoredEvent(abs string) bool {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == "." {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func (r *Realm) addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != r.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
