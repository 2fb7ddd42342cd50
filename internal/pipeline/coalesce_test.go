package pipeline

import (
	"context"
	"dirmirror/internal/model"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const root = "/src"

func raw(kind model.EventKind, rel string) model.RawEvent {
	return model.RawEvent{Kind: kind, Path: filepath.Join(root, rel), Timestamp: time.Unix(100, 0)}
}

func renameTo(rel, from string) model.RawEvent {
	ev := raw(model.EventRenameTo, rel)
	ev.OldPath = filepath.Join(root, from)
	return ev
}

func newTestCoalescer() (*Coalescer, *time.Time) {
	c := NewCoalescer(root, 100*time.Millisecond)
	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func kinds(events []model.CanonicalEvent) []model.EventKind {
	out := make([]model.EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestReduceTable(t *testing.T) {
	C, M, D := model.EventCreate, model.EventModify, model.EventDelete

	tests := []struct {
		name string
		seq  []model.EventKind
		want []model.EventKind
	}{
		{"create then delete is transient", []model.EventKind{C, D}, nil},
		{"create modify delete is transient", []model.EventKind{C, M, M, D}, nil},
		{"modify then delete", []model.EventKind{M, D}, []model.EventKind{D}},
		{"plain delete", []model.EventKind{D}, []model.EventKind{D}},
		{"create then modifies", []model.EventKind{C, M, M}, []model.EventKind{C}},
		{"modifies", []model.EventKind{M, M, M}, []model.EventKind{M}},
		{"delete then recreate", []model.EventKind{D, C, M}, []model.EventKind{M}},
		{"unknown only", []model.EventKind{model.EventUnknown}, nil},
		{"unknown is ignored", []model.EventKind{model.EventUnknown, M}, []model.EventKind{M}},
		{"unpaired rename from", []model.EventKind{model.EventRenameFrom}, []model.EventKind{D}},
		{"unpaired rename to", []model.EventKind{model.EventRenameTo, M}, []model.EventKind{C}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Buffer{Path: "f.txt"}
			for _, k := range tt.seq {
				buf.Events = append(buf.Events, raw(k, "f.txt"))
			}

			got := Reduce(buf)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, kinds(got))
			assert.Equal(t, "f.txt", got[0].Path)
		})
	}
}

func TestReduceAlwaysAtMostOneEventPerPath(t *testing.T) {
	all := []model.EventKind{model.EventCreate, model.EventModify, model.EventDelete}

	var walk func(seq []model.EventKind, depth int)
	walk = func(seq []model.EventKind, depth int) {
		if len(seq) > 0 {
			buf := Buffer{Path: "p"}
			for _, k := range seq {
				buf.Events = append(buf.Events, raw(k, "p"))
			}
			assert.LessOrEqual(t, len(Reduce(buf)), 1, "%v", seq)
		}
		if depth == 0 {
			return
		}
		for _, k := range all {
			walk(append(append([]model.EventKind{}, seq...), k), depth-1)
		}
	}

	walk(nil, 4)
}

func TestReduceDirectoryDelete(t *testing.T) {
	buf := Buffer{Path: "d", Events: []model.RawEvent{
		{Kind: model.EventModify, Path: "/src/d", IsDir: true},
		{Kind: model.EventDelete, Path: "/src/d"},
	}}

	got := Reduce(buf)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventDelete, got[0].Kind)
	assert.True(t, got[0].IsDir)
}

func TestCoalescerWindowRestartsOnEveryEvent(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventModify, "a.txt"))
	*clock = clock.Add(80 * time.Millisecond)
	c.Add(raw(model.EventModify, "a.txt"))
	*clock = clock.Add(80 * time.Millisecond)

	assert.Empty(t, c.Expire(*clock))
	assert.Equal(t, 1, c.Pending())

	*clock = clock.Add(30 * time.Millisecond)
	got := c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventModify, got[0].Kind)
	assert.Equal(t, 0, c.Pending())
}

func TestCoalescerIndependentPaths(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventCreate, "a"))
	*clock = clock.Add(60 * time.Millisecond)
	c.Add(raw(model.EventCreate, "b"))
	*clock = clock.Add(50 * time.Millisecond)

	got := c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Path)

	*clock = clock.Add(60 * time.Millisecond)
	got = c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Path)
}

func TestCoalescerPairsRename(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventRenameFrom, "old.txt"))
	c.Add(renameTo("new.txt", "old.txt"))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventRename, got[0].Kind)
	assert.Equal(t, "old.txt", got[0].From)
	assert.Equal(t, "new.txt", got[0].Path)
	assert.False(t, got[0].ContentChanged)
}

func TestCoalescerRenameAfterWriteMarksContentChanged(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventModify, "old.txt"))
	c.Add(raw(model.EventRenameFrom, "old.txt"))
	c.Add(renameTo("new.txt", "old.txt"))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventRename, got[0].Kind)
	assert.True(t, got[0].ContentChanged)
}

func TestCoalescerTempFileSaveIsMovedIn(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventCreate, ".notes.txt.swx"))
	c.Add(raw(model.EventModify, ".notes.txt.swx"))
	c.Add(raw(model.EventRenameFrom, ".notes.txt.swx"))
	c.Add(renameTo("notes.txt", ".notes.txt.swx"))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventCreate, got[0].Kind)
	assert.Equal(t, "notes.txt", got[0].Path)
	assert.True(t, got[0].MovedIn)
}

func TestCoalescerFreshCreateIsNotMovedIn(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventCreate, "new.txt"))
	c.Add(raw(model.EventModify, "new.txt"))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventCreate, got[0].Kind)
	assert.False(t, got[0].MovedIn)
}

func TestCoalescerActivityAtRenameOriginSettlesRenameFirst(t *testing.T) {
	c, clock := newTestCoalescer()

	// Log rotation: the old file moves away, a new one takes its name, and
	// the old writer keeps appending to the moved file.
	c.Add(raw(model.EventRenameFrom, "app.log"))
	c.Add(renameTo("app.log.1", "app.log"))
	*clock = clock.Add(50 * time.Millisecond)
	c.Add(raw(model.EventModify, "app.log.1"))

	settled := c.Add(raw(model.EventCreate, "app.log"))
	require.Len(t, settled, 1)
	assert.Equal(t, model.EventRename, settled[0].Kind)
	assert.Equal(t, "app.log", settled[0].From)
	assert.Equal(t, "app.log.1", settled[0].Path)
	assert.True(t, settled[0].ContentChanged)

	*clock = clock.Add(40 * time.Millisecond)
	c.Add(raw(model.EventModify, "app.log.1"))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 2)
	byPath := map[string]model.EventKind{}
	for _, ev := range got {
		byPath[ev.Path] = ev.Kind
	}
	assert.Equal(t, model.EventCreate, byPath["app.log"])
	assert.Equal(t, model.EventModify, byPath["app.log.1"])
	assert.Zero(t, c.Pending())
}

func TestCoalescerActivityBelowRenamedDirSettlesRenameFirst(t *testing.T) {
	c, _ := newTestCoalescer()

	from := raw(model.EventRenameFrom, "build")
	from.IsDir = true
	to := renameTo("build.old", "build")
	to.IsDir = true
	c.Add(from)
	c.Add(to)

	settled := c.Add(raw(model.EventCreate, "build/out.bin"))
	require.Len(t, settled, 1)
	assert.Equal(t, model.EventRename, settled[0].Kind)
	assert.Equal(t, "build", settled[0].From)
}

func TestCoalescerRenameBackIsModify(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventRenameFrom, "a"))
	c.Add(renameTo("b", "a"))
	c.Add(raw(model.EventModify, "b"))
	c.Add(raw(model.EventRenameFrom, "b"))
	assert.Empty(t, c.Add(renameTo("a", "b")))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventModify, got[0].Kind)
	assert.Equal(t, "a", got[0].Path)
}

func TestCoalescerRenameThenDeleteRemovesBoth(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventRenameFrom, "a"))
	c.Add(renameTo("b", "a"))
	c.Add(raw(model.EventDelete, "b"))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 2)
	assert.Equal(t, []model.EventKind{model.EventDelete, model.EventDelete}, kinds(got))
	assert.Equal(t, "a", got[0].Path)
	assert.Equal(t, "b", got[1].Path)
}

func TestCoalescerRenameChain(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventRenameFrom, "a"))
	c.Add(renameTo("b", "a"))
	c.Add(raw(model.EventRenameFrom, "b"))
	c.Add(renameTo("c", "b"))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventRename, got[0].Kind)
	assert.Equal(t, "a", got[0].From)
	assert.Equal(t, "c", got[0].Path)
}

func TestCoalescerUnpairedRenameFromIsDelete(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(raw(model.EventRenameFrom, "gone.txt"))
	c.Add(renameTo("other.txt", "never-seen.txt"))
	*clock = clock.Add(time.Second)

	got := c.Expire(*clock)
	require.Len(t, got, 2)

	byPath := map[string]model.EventKind{}
	for _, ev := range got {
		byPath[ev.Path] = ev.Kind
	}
	assert.Equal(t, model.EventDelete, byPath["gone.txt"])
	assert.Equal(t, model.EventCreate, byPath["other.txt"])
}

func TestCoalescerIgnoresPathsOutsideRoot(t *testing.T) {
	c, clock := newTestCoalescer()

	c.Add(model.RawEvent{Kind: model.EventModify, Path: "/elsewhere/x"})
	c.Add(model.RawEvent{Kind: model.EventModify, Path: root})
	*clock = clock.Add(time.Second)

	assert.Empty(t, c.Expire(*clock))
	assert.Equal(t, 0, c.Pending())
}

func TestCoalescerRunFlushesOnClose(t *testing.T) {
	c := NewCoalescer(root, time.Hour)
	in := make(chan model.RawEvent, 4)
	out := c.Run(context.Background(), in)

	in <- raw(model.EventCreate, "x")
	in <- raw(model.EventModify, "x")
	close(in)

	var got []model.CanonicalEvent
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, model.EventCreate, got[0].Kind)
}

func TestCoalescerRunEmitsAfterQuietWindow(t *testing.T) {
	c := NewCoalescer(root, 20*time.Millisecond)
	in := make(chan model.RawEvent)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := c.Run(ctx, in)
	in <- raw(model.EventCreate, "tmp")
	in <- raw(model.EventDelete, "tmp")
	in <- raw(model.EventModify, "kept")

	select {
	case ev := <-out:
		assert.Equal(t, model.EventModify, ev.Kind)
		assert.Equal(t, "kept", ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}

	select {
	case ev := <-out:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
