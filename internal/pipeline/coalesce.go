package pipeline

import (
	"container/heap"
	"context"
	"dirmirror/internal/logger"
	"dirmirror/internal/model"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const DefaultQuietWindow = 300 * time.Millisecond

// Buffer is the pending state of one path inside a quiet window. When the
// path was the destination of a paired rename, From and FromEvents carry
// the origin path and everything observed on it before the move.
type Buffer struct {
	Path       string
	Events     []model.RawEvent
	From       string
	FromEvents []model.RawEvent
}

type pending struct {
	buf      Buffer
	deadline time.Time
	gen      uint64
}

type expiry struct {
	path     string
	deadline time.Time
	gen      uint64
}

type expiryHeap []expiry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Coalescer debounces raw events per path and reduces each settled burst
// into canonical events. All state is owned by the Run goroutine except
// size, which Pending reads from other goroutines.
type Coalescer struct {
	root   string
	window time.Duration
	now    func() time.Time

	table map[string]*pending
	queue expiryHeap
	gen   uint64

	// origins maps the origin of a pending paired rename to the buffer
	// that holds it.
	origins map[string]string

	size atomic.Int64
}

func NewCoalescer(root string, window time.Duration) *Coalescer {
	if window <= 0 {
		window = DefaultQuietWindow
	}

	return &Coalescer{
		root:    filepath.Clean(root),
		window:  window,
		now:     time.Now,
		table:   make(map[string]*pending),
		origins: make(map[string]string),
	}
}

// Pending returns the number of paths currently buffered.
func (c *Coalescer) Pending() int {
	return int(c.size.Load())
}

func (c *Coalescer) Run(ctx context.Context, inCh <-chan model.RawEvent) <-chan model.CanonicalEvent {
	outCh := make(chan model.CanonicalEvent, cap(inCh))

	go func() {
		defer close(outCh)

		timer := time.NewTimer(time.Hour)
		timer.Stop()
		defer timer.Stop()

		emit := func(events []model.CanonicalEvent) bool {
			for _, ev := range events {
				select {
				case outCh <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return

			case raw, ok := <-inCh:
				if !ok {
					emit(c.FlushAll())
					return
				}
				if !emit(c.Add(raw)) {
					return
				}
				c.arm(timer)

			case <-timer.C:
				if !emit(c.Expire(c.now())) {
					return
				}
				c.arm(timer)
			}
		}
	}()

	return outCh
}

func (c *Coalescer) arm(timer *time.Timer) {
	for c.queue.Len() > 0 {
		head := c.queue[0]
		p, ok := c.table[head.path]
		if ok && p.gen == head.gen {
			break
		}
		heap.Pop(&c.queue)
	}

	timer.Stop()
	if c.queue.Len() == 0 {
		return
	}

	wait := c.queue[0].deadline.Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}

func (c *Coalescer) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(c.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return filepath.ToSlash(rel), true
}

// Add buffers one raw event and restarts the quiet window of its path.
// Activity on the origin of a pending rename settles that rename first, so
// the returned events must be emitted before anything Expire yields later.
func (c *Coalescer) Add(raw model.RawEvent) []model.CanonicalEvent {
	if raw.Kind == model.EventUnknown {
		return nil
	}

	rel, ok := c.rel(raw.Path)
	if !ok {
		return nil
	}

	if logger.Tracing() {
		logger.Log.Debug("raw event",
			zap.String("kind", string(raw.Kind)),
			zap.String("path", rel),
			zap.Bool("dir", raw.IsDir))
	}

	out := c.settleOrigins(rel, raw)

	p, exists := c.table[rel]
	if !exists {
		p = &pending{buf: Buffer{Path: rel}}
		c.table[rel] = p
	}

	if raw.Kind == model.EventRenameTo {
		c.pair(p, raw)
	}

	p.buf.Events = append(p.buf.Events, raw)
	c.touch(rel, p)
	c.size.Store(int64(len(c.table)))

	return out
}

// settleOrigins reduces every pending rename whose origin is rel or one of
// its ancestors. A later event there describes a new file, and it must not
// reach the target before the move of the old one. A rename straight back
// to the origin is left to pair instead.
func (c *Coalescer) settleOrigins(rel string, raw model.RawEvent) []model.CanonicalEvent {
	if len(c.origins) == 0 {
		return nil
	}

	var out []model.CanonicalEvent
	for p := rel; ; p = path.Dir(p) {
		if dst, ok := c.origins[p]; ok && c.table[dst] != nil && c.table[dst].buf.From == p {
			back := p == rel && raw.Kind == model.EventRenameTo && raw.OldPath != ""
			if back {
				old, _ := c.rel(raw.OldPath)
				back = old == dst
			}
			if !back {
				if buf, ok := c.take(dst); ok {
					out = append(out, c.reduce(buf)...)
				}
			}
		}

		if p == "." || !strings.Contains(p, "/") {
			break
		}
	}

	return out
}

// take removes a pending buffer from the table along with its origin entry.
func (c *Coalescer) take(rel string) (Buffer, bool) {
	p, ok := c.table[rel]
	if !ok {
		return Buffer{}, false
	}

	delete(c.table, rel)
	if p.buf.From != "" && c.origins[p.buf.From] == rel {
		delete(c.origins, p.buf.From)
	}

	return p.buf, true
}

// pair moves the buffered origin of a rename into the destination buffer so
// that both halves settle together under the destination path.
func (c *Coalescer) pair(dst *pending, raw model.RawEvent) {
	if raw.OldPath == "" {
		return
	}

	from, ok := c.rel(raw.OldPath)
	if !ok || from == dst.buf.Path {
		return
	}

	src, ok := c.table[from]
	if !ok || len(src.buf.Events) == 0 || src.buf.Events[len(src.buf.Events)-1].Kind != model.EventRenameFrom {
		return
	}

	_, _ = c.take(from)

	if dst.buf.From != "" {
		if c.origins[dst.buf.From] == dst.buf.Path {
			delete(c.origins, dst.buf.From)
		}
		c.orphan(dst.buf.From, dst.buf.FromEvents)
		dst.buf.From = ""
		dst.buf.FromEvents = nil
	}

	switch {
	case src.buf.From == dst.buf.Path:
		// Moved away and straight back: only the content may have changed.
		dst.buf.Events = append(append(append([]model.RawEvent{}, src.buf.FromEvents...), src.buf.Events...), dst.buf.Events...)

	case src.buf.From != "":
		dst.buf.From = src.buf.From
		dst.buf.FromEvents = append(append([]model.RawEvent{}, src.buf.FromEvents...), src.buf.Events...)
		c.origins[dst.buf.From] = dst.buf.Path

	default:
		dst.buf.From = from
		dst.buf.FromEvents = src.buf.Events
		c.origins[from] = dst.buf.Path
	}
}

// orphan re-buffers the origin of an earlier rename whose destination was
// overwritten by a second rename, so the origin still settles as a Delete.
func (c *Coalescer) orphan(rel string, events []model.RawEvent) {
	p, ok := c.table[rel]
	if !ok {
		p = &pending{buf: Buffer{Path: rel}}
		c.table[rel] = p
	}

	p.buf.Events = append(append([]model.RawEvent{}, events...), p.buf.Events...)
	c.touch(rel, p)
}

func (c *Coalescer) touch(rel string, p *pending) {
	c.gen++
	p.gen = c.gen
	p.deadline = c.now().Add(c.window)
	heap.Push(&c.queue, expiry{path: rel, deadline: p.deadline, gen: p.gen})
}

// Expire reduces every buffer whose quiet window ended at or before now.
func (c *Coalescer) Expire(now time.Time) []model.CanonicalEvent {
	var out []model.CanonicalEvent

	for c.queue.Len() > 0 {
		head := c.queue[0]
		p, ok := c.table[head.path]
		if !ok || p.gen != head.gen {
			heap.Pop(&c.queue)
			continue
		}
		if head.deadline.After(now) {
			break
		}

		heap.Pop(&c.queue)
		buf, _ := c.take(head.path)
		out = append(out, c.reduce(buf)...)
	}
	c.size.Store(int64(len(c.table)))

	return out
}

// FlushAll reduces every pending buffer regardless of its deadline.
func (c *Coalescer) FlushAll() []model.CanonicalEvent {
	var out []model.CanonicalEvent

	for c.queue.Len() > 0 {
		head := heap.Pop(&c.queue).(expiry)
		p, ok := c.table[head.path]
		if !ok || p.gen != head.gen {
			continue
		}
		buf, _ := c.take(head.path)
		out = append(out, c.reduce(buf)...)
	}
	c.size.Store(0)

	return out
}

func (c *Coalescer) reduce(buf Buffer) []model.CanonicalEvent {
	events := Reduce(buf)
	if logger.Tracing() {
		for _, ev := range events {
			logger.Log.Debug("coalesced",
				zap.String("kind", string(ev.Kind)),
				zap.String("path", ev.Path),
				zap.String("from", ev.From),
				zap.Int("raw", len(buf.Events)+len(buf.FromEvents)))
		}
	}

	return events
}

// Reduce collapses a settled buffer. It yields at most one event per path:
// nothing for transient files, one event for the buffered path, and for a
// rename whose destination vanished again a Delete of the origin as well.
func Reduce(buf Buffer) []model.CanonicalEvent {
	events := known(buf.Events)
	if len(events) == 0 {
		return nil
	}

	last := events[len(events)-1]
	gone := last.Kind == model.EventDelete || last.Kind == model.EventRenameFrom

	if buf.From != "" {
		return reduceRename(buf, events, last, gone)
	}

	existed := preexisting(events)
	isDir := anyDir(events)

	switch {
	case gone && !existed:
		return nil
	case gone:
		return []model.CanonicalEvent{canonical(model.EventDelete, buf.Path, isDir, last)}
	case !existed, events[0].IsDir != last.IsDir:
		ev := canonical(model.EventCreate, buf.Path, last.IsDir, last)
		ev.MovedIn = movedIn(events)
		return []model.CanonicalEvent{ev}
	default:
		return []model.CanonicalEvent{canonical(model.EventModify, buf.Path, last.IsDir, last)}
	}
}

func reduceRename(buf Buffer, events []model.RawEvent, last model.RawEvent, gone bool) []model.CanonicalEvent {
	origin := known(buf.FromEvents)
	originExisted := len(origin) == 0 || preexisting(origin)

	if gone {
		var out []model.CanonicalEvent
		if originExisted {
			out = append(out, canonical(model.EventDelete, buf.From, anyDir(origin), last))
		}
		return append(out, canonical(model.EventDelete, buf.Path, anyDir(events), last))
	}

	// A file written elsewhere in the tree and renamed into place, the way
	// editors save.
	if !originExisted {
		ev := canonical(model.EventCreate, buf.Path, last.IsDir, last)
		ev.MovedIn = true
		return []model.CanonicalEvent{ev}
	}

	ev := canonical(model.EventRename, buf.Path, last.IsDir, last)
	ev.From = buf.From
	ev.ContentChanged = hasWrite(origin) || hasWrite(afterRename(events))

	return []model.CanonicalEvent{ev}
}

func canonical(kind model.EventKind, path string, isDir bool, last model.RawEvent) model.CanonicalEvent {
	return model.CanonicalEvent{
		Kind:       kind,
		Path:       path,
		IsDir:      isDir,
		ObservedAt: last.Timestamp,
	}
}

func known(events []model.RawEvent) []model.RawEvent {
	out := make([]model.RawEvent, 0, len(events))
	for _, ev := range events {
		if ev.Kind != model.EventUnknown {
			out = append(out, ev)
		}
	}

	return out
}

// preexisting reports whether the path was already present before the
// window opened, judged by the first event observed on it.
func preexisting(events []model.RawEvent) bool {
	switch events[0].Kind {
	case model.EventCreate, model.EventRenameTo:
		return false
	default:
		return true
	}
}

func anyDir(events []model.RawEvent) bool {
	for _, ev := range events {
		if ev.IsDir {
			return true
		}
	}

	return false
}

func hasWrite(events []model.RawEvent) bool {
	for _, ev := range events {
		if ev.Kind == model.EventModify || ev.Kind == model.EventCreate {
			return true
		}
	}

	return false
}

func movedIn(events []model.RawEvent) bool {
	for _, ev := range events {
		if ev.Kind == model.EventRenameTo {
			return true
		}
	}

	return false
}

func afterRename(events []model.RawEvent) []model.RawEvent {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == model.EventRenameTo {
			return events[i+1:]
		}
	}

	return events
}
