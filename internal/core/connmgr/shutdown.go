package connmgr

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-connmgr/pkg/types"
)

// Shutdown is the manager's scope-exit routine. It rewrites every
// cell to Terminated *before* cancelling any thread, so a thread's own
// Cleanup step — triggered by the cancellation ctx finally completing —
// observes Terminated and takes the plain close-socket branch instead
// of scheduling a TIME_WAIT sleep. This is what makes shutdown bounded
// regardless of TimeWaitTimeout.
//
// Cancellation and Done-wait for every thread fan out through a bounded
// errgroup; per-thread wait errors (ctx expiring before a thread's
// Cleanup finished) are aggregated with multierr rather than discarded.
func (m *Manager[P, S, H]) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cfg.Trace.Trace("shutdown.start")

	m.table.lock()
	snapshot := m.table.snapshotLocked()
	for peer := range snapshot {
		m.table.set(peer, types.TerminatedState{})
	}
	m.table.unlock()

	g, gctx := errgroup.WithContext(ctx)
	if n := len(snapshot); n > 0 {
		limit := n
		if limit > 64 {
			limit = 64
		}
		g.SetLimit(limit)
	}

	var mu sync.Mutex
	var errs error

	for peer, state := range snapshot {
		th := types.Thread[P, H](state)
		if th == nil {
			continue
		}
		peer, th := peer, th
		g.Go(func() error {
			th.Cancel()
			select {
			case <-th.Done():
				return nil
			case <-gctx.Done():
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("peer %v: %w", peer, gctx.Err()))
				mu.Unlock()
				return gctx.Err()
			}
		})
	}
	_ = g.Wait()

	m.cfg.Trace.Trace("shutdown.complete")
	return errs
}
