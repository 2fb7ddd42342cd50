package local

import (
	"dirmirror/internal/model"
	"strings"
	"sync"
)

type op struct {
	event      model.MappedEvent
	keys       []string
	dispatched bool
}

// lockTable serializes operations on overlapping target paths. Two paths
// overlap when they are equal or one is an ancestor of the other, so a
// directory delete and a later create inside it keep their arrival order.
// An operation runs once no earlier pending operation overlaps it; since
// waiting only ever points backwards in arrival order there are no cycles.
type lockTable struct {
	mu      sync.Mutex
	pending []*op
}

func newLockTable() *lockTable {
	return &lockTable{}
}

// enqueue registers o and reports whether it can run immediately.
func (t *lockTable) enqueue(o *op) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = append(t.pending, o)
	if t.blocked(len(t.pending) - 1) {
		return false
	}

	o.dispatched = true
	return true
}

// release removes a finished o and returns the operations it unblocked.
func (t *lockTable) release(o *op) []*op {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, p := range t.pending {
		if p == o {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}

	var next []*op
	for i, p := range t.pending {
		if p.dispatched || t.blocked(i) {
			continue
		}
		p.dispatched = true
		next = append(next, p)
	}

	return next
}

// inFlight returns the number of queued or running operations.
func (t *lockTable) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}

func (t *lockTable) blocked(i int) bool {
	o := t.pending[i]
	for _, earlier := range t.pending[:i] {
		if overlaps(earlier.keys, o.keys) {
			return true
		}
	}

	return false
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if nested(x, y) || nested(y, x) {
				return true
			}
		}
	}

	return false
}

// nested reports whether p is equal to or below dir.
func nested(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}
