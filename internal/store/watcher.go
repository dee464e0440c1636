package store

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hpungsan/namecall/internal/logging"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads the store when its JSON document is edited on disk.
// Writes made by the store itself are recognized by content hash and skipped.
type Watcher struct {
	store   *Store
	file    *JSONFile
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	debounce time.Duration

	mu        sync.Mutex
	pendingAt time.Time
	reloads   int

	doneCh chan struct{}
}

// NewWatcher watches file's parent directory. Atomic renames replace the
// inode, so the file itself cannot be watched directly.
func NewWatcher(s *Store, file *JSONFile, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(file.Path())); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		store:    s,
		file:     file,
		logger:   logging.OrNop(logger),
		watcher:  fw,
		debounce: defaultDebounce,
		doneCh:   make(chan struct{}),
	}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.watcher.Close()

	tick := time.NewTicker(w.debounce / 3)
	defer tick.Stop()

	target := filepath.Base(w.file.Path())

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			w.pendingAt = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("mappings_watch_error", zap.Error(err))

		case <-tick.C:
			w.flush(ctx)
		}
	}
}

// done is closed when Run returns.
func (w *Watcher) done() <-chan struct{} {
	return w.doneCh
}

// Reloads returns how many external edits were applied.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if w.pendingAt.IsZero() || time.Since(w.pendingAt) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pendingAt = time.Time{}
	w.mu.Unlock()

	if !w.file.ChangedOnDisk() {
		return
	}

	snap, err := w.file.LoadMappings(ctx)
	if err != nil {
		// Keep the current tables on a bad edit.
		w.logger.Warn("mappings_reload_failed", zap.Error(err))
		return
	}
	w.store.Reload(snap)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	w.logger.Info("mappings_reloaded",
		zap.Int("static", w.store.StaticLen()),
		zap.Int("learned", w.store.Len()),
	)
}
