package connmgr

import (
	"context"
	"sync"

	"github.com/dep2p/go-connmgr/pkg/types"
)

// table is the per-peer state map: a peer -> ConnectionState map guarded
// by one coarse mutex, with a condition variable broadcast on every
// write so the retry/await suspension points (awaiting a Terminating
// departure, awaiting inbound negotiation) can block without polling.
//
// Each cell could in principle be independently atomic so reads/writes
// don't all contend on the table lock; this implementation folds both
// into a single mutex for simplicity; every critical section here is a
// lookup, a decision and a write, never I/O, so the extra contention is
// the cost of a map access, not a blocking call.
type table[P comparable, H any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	cells map[P]types.ConnectionState[P, H]
}

func newTable[P comparable, H any]() *table[P, H] {
	t := &table[P, H]{cells: make(map[P]types.ConnectionState[P, H])}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *table[P, H]) lock()   { t.mu.Lock() }
func (t *table[P, H]) unlock() { t.mu.Unlock() }

// get must be called with the lock held.
func (t *table[P, H]) get(peer P) (types.ConnectionState[P, H], bool) {
	s, ok := t.cells[peer]
	return s, ok
}

// set must be called with the lock held. Every write broadcasts, waking
// any goroutine blocked in wait/waitCtx on this table.
func (t *table[P, H]) set(peer P, s types.ConnectionState[P, H]) {
	t.cells[peer] = s
	t.cond.Broadcast()
}

// delete must be called with the lock held; callers must have verified
// the entry's state is Terminating or Terminated.
func (t *table[P, H]) delete(peer P) {
	delete(t.cells, peer)
	t.cond.Broadcast()
}

// wait blocks on the condition variable; must be called with the lock
// held, and reacquires it before returning.
func (t *table[P, H]) wait() {
	t.cond.Wait()
}

// waitCtx is wait, but also wakes (without a state change) if ctx is
// cancelled, so a blocked requestOutbound can still honor its caller's
// deadline. Must be called with the lock held.
func (t *table[P, H]) waitCtx(ctx context.Context) {
	if ctx.Done() == nil {
		t.wait()
		return
	}
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()
	t.wait()
}

// snapshotLocked returns a shallow copy of the table; must be called
// with the lock held.
func (t *table[P, H]) snapshotLocked() map[P]types.ConnectionState[P, H] {
	out := make(map[P]types.ConnectionState[P, H], len(t.cells))
	for k, v := range t.cells {
		out[k] = v
	}
	return out
}

// snapshot is a cheap, lock-scoped read of the whole table.
func (t *table[P, H]) snapshot() map[P]types.ConnectionState[P, H] {
	t.lock()
	defer t.unlock()
	return t.snapshotLocked()
}

func (t *table[P, H]) len() int {
	t.lock()
	defer t.unlock()
	return len(t.cells)
}
