package local

import (
	"dirmirror/internal/logger"
	"dirmirror/internal/model"
	"dirmirror/internal/syncer"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultRenameWindow bounds how long a Rename notification waits for the
// Create that completes it before it is emitted unpaired.
const DefaultRenameWindow = 50 * time.Millisecond

var _ syncer.EventSource = (*Watcher)(nil)

// Watcher turns fsnotify notifications for a whole tree into RawEvents.
// Directories created after Start are subscribed automatically.
type Watcher struct {
	root         string
	skip         func(rel string) bool
	renameWindow time.Duration

	fw      *fsnotify.Watcher
	eventCh chan model.RawEvent
	doneCh  chan struct{}
	exitCh  chan struct{}
	once    sync.Once

	// dirs is owned by the run goroutine once Start returns.
	dirs map[string]struct{}
}

// New prepares a watcher for root. skip, when set, receives slash-separated
// paths relative to root and keeps matching directories unsubscribed.
func New(root string, bufSize int, skip func(rel string) bool) *Watcher {
	return &Watcher{
		root:         filepath.Clean(root),
		skip:         skip,
		renameWindow: DefaultRenameWindow,
		eventCh:      make(chan model.RawEvent, bufSize),
		doneCh:       make(chan struct{}),
		exitCh:       make(chan struct{}),
		dirs:         make(map[string]struct{}),
	}
}

// Start subscribes to the tree. Errors on the root are fatal and returned as
// WatchError; errors on sub-directories are logged and skipped.
func (w *Watcher) Start() error {
	absRoot, err := filepath.Abs(w.root)
	if err != nil {
		return &WatchError{Path: w.root, Err: err}
	}
	w.root = absRoot

	info, err := os.Stat(absRoot)
	if err != nil {
		return &WatchError{Path: absRoot, Err: err}
	}
	if !info.IsDir() {
		return &WatchError{Path: absRoot, Err: errors.New("not a directory")}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return &WatchError{Path: absRoot, Err: fmt.Errorf("failed to create watcher: %w", err)}
	}
	w.fw = fw

	if err := w.fw.Add(absRoot); err != nil {
		_ = w.fw.Close()
		return &WatchError{Path: absRoot, Err: err}
	}
	w.dirs[absRoot] = struct{}{}
	w.addRecursive(absRoot, nil)

	go w.run()

	logger.Log.Info("watcher started",
		zap.String("dir", absRoot),
		zap.Int("dirs", len(w.dirs)))
	return nil
}

func (w *Watcher) Events() <-chan model.RawEvent {
	return w.eventCh
}

// Stop unsubscribes and waits for the event loop to exit. The events
// channel is closed afterwards. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.doneCh)
		if w.fw == nil {
			close(w.eventCh)
			return
		}
		_ = w.fw.Close()
		<-w.exitCh
	})
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return ""
	}

	return filepath.ToSlash(rel)
}

func (w *Watcher) skipped(path string) bool {
	if w.skip == nil || path == w.root {
		return false
	}

	return w.skip(w.rel(path))
}

// addRecursive subscribes every directory below dir. When found is set it
// is called for each entry so the caller can synthesize Create events for
// content that appeared before the subscription took effect.
func (w *Watcher) addRecursive(dir string, found func(path string, isDir bool)) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Log.Warn("failed to scan directory",
				zap.Error(&WatchError{Path: path, Err: err}))
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		if path == dir {
			return nil
		}

		if found != nil {
			found(path, d.IsDir())
		}

		if !d.IsDir() {
			return nil
		}

		if w.skipped(path) {
			return filepath.SkipDir
		}

		w.watch(path)
		return nil
	})
}

func (w *Watcher) watch(dir string) {
	if _, ok := w.dirs[dir]; ok {
		return
	}

	if err := w.fw.Add(dir); err != nil {
		logger.Log.Warn("failed to watch directory",
			zap.Error(&WatchError{Path: dir, Err: err}))
		return
	}

	w.dirs[dir] = struct{}{}
	logger.Log.Debug("watching directory",
		zap.String("path", dir))
}

// forget drops dir and everything below it from the watch list.
func (w *Watcher) forget(dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			_ = w.fw.Remove(d)
			delete(w.dirs, d)
		}
	}
}

func (w *Watcher) isDir(path string) bool {
	_, ok := w.dirs[path]
	return ok
}

func (w *Watcher) run() {
	defer close(w.exitCh)
	defer close(w.eventCh)

	// A Rename is held back until the next notification shows whether it
	// is the first half of a move inside the tree.
	var held *model.RawEvent
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	release := func() bool {
		if held == nil {
			return true
		}
		ev := *held
		held = nil
		timer.Stop()
		return w.send(ev)
	}

	for {
		select {
		case <-w.doneCh:
			logger.Log.Info("watcher stopping")
			return

		case fsEvent, ok := <-w.fw.Events:
			if !ok {
				release()
				return
			}

			kind := toEventKind(fsEvent.Op)

			if held != nil && kind == model.EventCreate && time.Since(held.Timestamp) <= w.renameWindow {
				from := *held
				held = nil
				timer.Stop()

				if !w.send(from) {
					return
				}
				if !w.created(fsEvent.Name, from.Path) {
					return
				}
				continue
			}

			if !release() {
				return
			}

			switch kind {
			case model.EventRenameFrom:
				ev := w.raw(kind, fsEvent.Name, w.isDir(fsEvent.Name))
				if ev.IsDir {
					w.forget(fsEvent.Name)
				}
				held = &ev
				timer.Reset(w.renameWindow)

			case model.EventCreate:
				if !w.created(fsEvent.Name, "") {
					return
				}

			case model.EventDelete:
				isDir := w.isDir(fsEvent.Name)
				if isDir {
					w.forget(fsEvent.Name)
				}
				if !w.send(w.raw(kind, fsEvent.Name, isDir)) {
					return
				}

			default:
				if !w.send(w.raw(kind, fsEvent.Name, w.isDir(fsEvent.Name))) {
					return
				}
			}

		case <-timer.C:
			if !release() {
				return
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logger.Log.Error("event queue overflowed, some changes were missed",
					zap.String("root", w.root))
				continue
			}

			logger.Log.Error("watcher error",
				zap.Error(&WatchError{Path: w.root, Err: err}))
		}
	}
}

// created handles a Create notification. from is the origin when the
// notification completes a rename.
func (w *Watcher) created(path, from string) bool {
	info, err := os.Lstat(path)
	isDir := err == nil && info.IsDir()

	ev := w.raw(model.EventCreate, path, isDir)
	if from != "" {
		ev.Kind = model.EventRenameTo
		ev.OldPath = from
	}

	if !w.send(ev) {
		return false
	}

	if !isDir || w.skipped(path) {
		return true
	}

	w.watch(path)

	// A moved directory arrives with its content; only a fresh one needs
	// its children announced.
	if from != "" {
		w.addRecursive(path, nil)
		return true
	}

	ok := true
	w.addRecursive(path, func(child string, childDir bool) {
		if ok {
			ok = w.send(w.raw(model.EventCreate, child, childDir))
		}
	})

	return ok
}

func (w *Watcher) raw(kind model.EventKind, path string, isDir bool) model.RawEvent {
	return model.RawEvent{
		Kind:      kind,
		Path:      path,
		IsDir:     isDir,
		Timestamp: time.Now(),
	}
}

// send blocks while the consumer is behind so a saturated pipeline slows
// the watcher down instead of growing without bound.
func (w *Watcher) send(ev model.RawEvent) bool {
	select {
	case w.eventCh <- ev:
		return true
	case <-w.doneCh:
		return false
	}
}

func toEventKind(op fsnotify.Op) model.EventKind {
	switch {
	case op.Has(fsnotify.Create):
		return model.EventCreate
	case op.Has(fsnotify.Write):
		return model.EventModify
	case op.Has(fsnotify.Remove):
		return model.EventDelete
	case op.Has(fsnotify.Rename):
		return model.EventRenameFrom
	default:
		return model.EventUnknown
	}
}
