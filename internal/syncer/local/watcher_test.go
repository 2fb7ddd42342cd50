package local

import (
	"dirmirror/internal/model"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string, skip func(string) bool) *Watcher {
	t.Helper()
	w := New(root, 64, skip)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w
}

// expectEvent reads until match returns true or the timeout elapses.
func expectEvent(t *testing.T, w *Watcher, match func(model.RawEvent) bool) model.RawEvent {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "event channel closed")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return model.RawEvent{}
		}
	}
}

func is(kind model.EventKind, path string) func(model.RawEvent) bool {
	return func(ev model.RawEvent) bool {
		return ev.Kind == kind && ev.Path == path
	}
}

func TestWatcherStartErrors(t *testing.T) {
	err := New(filepath.Join(t.TempDir(), "missing"), 1, nil).Start()

	var watchErr *WatchError
	require.True(t, errors.As(err, &watchErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	err = New(file, 1, nil).Start()
	require.True(t, errors.As(err, &watchErr))
}

func TestWatcherReportsFileLifecycle(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)
	p := filepath.Join(root, "a.txt")

	require.NoError(t, os.WriteFile(p, []byte("1"), 0644))
	ev := expectEvent(t, w, is(model.EventCreate, p))
	assert.False(t, ev.IsDir)

	require.NoError(t, os.WriteFile(p, []byte("2"), 0644))
	expectEvent(t, w, is(model.EventModify, p))

	require.NoError(t, os.Remove(p))
	expectEvent(t, w, is(model.EventDelete, p))
}

func TestWatcherSubscribesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)

	dir := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(dir, 0755))
	ev := expectEvent(t, w, is(model.EventCreate, dir))
	assert.True(t, ev.IsDir)

	child := filepath.Join(dir, "inner.txt")
	require.NoError(t, os.WriteFile(child, []byte("x"), 0644))
	expectEvent(t, w, is(model.EventCreate, child))
}

func TestWatcherAnnouncesContentOfNewDirectory(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)

	// Built outside the tree and moved in, so no notification exists for
	// the nested entries.
	staging := filepath.Join(t.TempDir(), "pkg")
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "deep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "deep", "f.txt"), []byte("x"), 0644))

	dir := filepath.Join(root, "pkg")
	require.NoError(t, os.Rename(staging, dir))

	expectEvent(t, w, is(model.EventCreate, dir))
	expectEvent(t, w, is(model.EventCreate, filepath.Join(dir, "deep")))
	expectEvent(t, w, is(model.EventCreate, filepath.Join(dir, "deep", "f.txt")))
}

func TestWatcherPairsRename(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	newPath := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0644))

	w := startWatcher(t, root, nil)
	require.NoError(t, os.Rename(oldPath, newPath))

	expectEvent(t, w, is(model.EventRenameFrom, oldPath))
	ev := expectEvent(t, w, is(model.EventRenameTo, newPath))
	assert.Equal(t, oldPath, ev.OldPath)
}

func TestWatcherUnpairedRenameOut(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "leaving.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))

	w := startWatcher(t, root, nil)
	require.NoError(t, os.Rename(p, filepath.Join(t.TempDir(), "gone.txt")))

	expectEvent(t, w, is(model.EventRenameFrom, p))
}

func TestWatcherSkipsExcludedDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0755))

	w := startWatcher(t, root, func(rel string) bool { return rel == "node_modules" })
	_, watched := w.dirs[filepath.Join(w.root, "node_modules")]
	assert.False(t, watched)

	_, watched = w.dirs[w.root]
	assert.True(t, watched)
}

func TestWatcherStopClosesEvents(t *testing.T) {
	w := New(t.TempDir(), 1, nil)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}
