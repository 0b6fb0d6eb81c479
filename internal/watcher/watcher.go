// Package watcher turns fsnotify activity under the vault into change events
// on a bounded channel.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/fileid"
)

const defaultBuffer = 256

// Op is the kind of change an Event reports.
type Op int

const (
	// Changed means the file was created or written and should be (re)indexed.
	Changed Op = iota
	// Removed means the path, file or directory, was removed or renamed away.
	Removed
)

func (o Op) String() string {
	if o == Removed {
		return "removed"
	}
	return "changed"
}

// Event is a change to a vault key.
type Event struct {
	Path string
	Op   Op
}

// Filter decides which vault keys are worth reporting. vault.Walker satisfies it.
type Filter interface {
	Included(key string) bool
	IgnoredDir(key string) bool
}

// Watcher watches a vault root recursively and emits Events.
type Watcher struct {
	root     string
	filter   Filter
	events   chan Event
	overflow atomic.Bool
	logger   *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher for root. buffer is the event channel capacity.
func NewWatcher(root string, filter Filter, buffer int, opts ...WatcherOption) *Watcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	w := &Watcher{
		root:   filepath.Clean(root),
		filter: filter,
		events: make(chan Event, buffer),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the event channel. It is closed when the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// TakeOverflow reports whether events were dropped since the last call, and
// clears the flag. A caller that sees true should rescan the whole vault.
func (w *Watcher) TakeOverflow() bool {
	return w.overflow.Swap(false)
}

// Start adds watches for the root and every non-ignored directory below it,
// then runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	if w.done != nil {
		return errors.New("watcher already stopped")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.addTree(w.root, false); err != nil {
		_ = fw.Close()
		w.watcher = nil
		return err
	}
	w.logger.Debug("watcher starting", zap.String("root", w.root))

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, fw)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer func() {
		_ = fw.Close()
		close(w.events)
		close(w.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.overflow.Store(true)
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	key, ok := fileid.Key(w.root, ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", key))

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.filter.IgnoredDir(key) {
			return
		}
		w.emit(Event{Path: key, Op: Removed})
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if !w.filter.IgnoredDir(key) {
				w.handleNewDirectory(ev.Name)
			}
			return
		}
		if w.filter.Included(key) {
			w.emit(Event{Path: key, Op: Changed})
		}
	}
}

// handleNewDirectory watches a directory that was created or moved in and
// reports the files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	err := w.addTree(dir, true)
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
}

// addTree watches dir and its non-ignored subdirectories. With emit set,
// included files found on the way are reported as Changed.
func (w *Watcher) addTree(dir string, emit bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			w.logger.Debug("watcher skipping path", zap.String("path", p), zap.Error(err))
			return nil
		}
		key, ok := fileid.Key(w.root, p)
		if d.IsDir() {
			if ok && w.filter.IgnoredDir(key) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(p); err != nil {
				return err
			}
			w.logger.Debug("watcher added directory", zap.String("path", p))
			return nil
		}
		if emit && ok && w.filter.Included(key) {
			w.emit(Event{Path: key, Op: Changed})
		}
		return nil
	})
}

// emit never blocks: when the channel is full the event is dropped and the
// overflow flag is raised.
func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.overflow.Store(true)
		w.logger.Warn("watcher event buffer full, dropping event", zap.String("path", ev.Path))
	}
}
