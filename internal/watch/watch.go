// Package watch reloads macros when the macro file changes on disk.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ourisland/litemacro/internal/logging"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces bursts of writes from editors.
const DefaultDebounce = 250 * time.Millisecond

// ErrWatcherClosed is returned when Run is called on a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// ReloadFunc is called once per debounced change.
type ReloadFunc func(ctx context.Context) error

// Stats contains watcher statistics.
type Stats struct {
	Events  int64
	Reloads int64
	Errors  int64
}

// FileWatcher watches one file. It watches the parent directory so that
// atomic saves (write to temp, rename over) are seen.
type FileWatcher struct {
	path     string
	dir      string
	debounce time.Duration
	reload   ReloadFunc
	logger   zerolog.Logger

	watcher *fsnotify.Watcher

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	events  atomic.Int64
	reloads atomic.Int64
	errors  atomic.Int64
}

// New creates a watcher for path. The directory containing path must exist.
func New(path string, debounce time.Duration, reload ReloadFunc) (*FileWatcher, error) {
	if reload == nil {
		return nil, errors.New("reload function is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &FileWatcher{
		path:     abs,
		dir:      dir,
		debounce: debounce,
		reload:   reload,
		logger:   logging.Component("watch"),
		watcher:  fsw,
	}, nil
}

// Path is the watched file.
func (w *FileWatcher) Path() string { return w.path }

// Run processes file events until ctx is canceled.
func (w *FileWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.mu.Unlock()

	w.logger.Info().Str("path", w.path).Dur("debounce", w.debounce).Msg("watching macro file")
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.errors.Add(1)
			w.logger.Warn().Err(err).Msg("file watch error")
		}
	}
}

func (w *FileWatcher) handle(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	w.events.Add(1)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
}

func (w *FileWatcher) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.reloads.Add(1)
	if err := w.reload(ctx); err != nil {
		w.errors.Add(1)
		w.logger.Warn().Err(err).Str("path", w.path).Msg("reload after file change failed")
		return
	}
	w.logger.Debug().Str("path", w.path).Msg("reloaded after file change")
}

// Close stops watching. It is safe to call more than once.
func (w *FileWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

// Stats returns watcher statistics.
func (w *FileWatcher) Stats() Stats {
	return Stats{
		Events:  w.events.Load(),
		Reloads: w.reloads.Load(),
		Errors:  w.errors.Load(),
	}
}
