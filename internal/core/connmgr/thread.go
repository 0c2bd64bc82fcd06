package connmgr

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dep2p/go-connmgr/pkg/interfaces"
	"github.com/dep2p/go-connmgr/pkg/types"
)

// connThread is the sole owner of one connection's goroutine, per spec
// §4.3 and invariant 4. Cancellation is delivered by cancelling its
// context; Done closes once its Cleanup step has run to completion.
type connThread struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

var _ types.ThreadHandle = (*connThread)(nil)

func (t *connThread) Cancel()              { t.cancel() }
func (t *connThread) Done() <-chan struct{} { return t.done }
func (t *connThread) String() string        { return t.id }

// spawnConnThread opens the bearer, hands it to the Handler, runs its
// Action body, and unconditionally executes Cleanup once that body
// returns — whether it returned because negotiation finished, because
// the Handler reported an error, or because ctx was cancelled. Cleanup
// is plain goroutine code that runs after Run returns; nothing can
// interrupt it once started, keeping it masked against cancellation
// without a dedicated mask primitive.
func (m *Manager[P, S, H]) spawnConnThread(peer P, sock S, connID types.ConnID[P], promise *types.Promise[H]) *connThread {
	ctx, cancel := context.WithCancel(context.Background())
	th := &connThread{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(th.done)

		bearer, err := m.cfg.SocketOps.ToBearer(ctx, sock, m.cfg.BearerTimeout, m.cfg.Trace)
		if err != nil {
			promise.Fulfill(types.HandlerOutcome[H]{
				Err: &types.HandleError{Kind: types.HandshakeFailure, Err: err},
			})
			m.cleanup(peer, sock, connID, th)
			return
		}

		action := m.cfg.Handler.Handle(connID, bearer, promise)
		runAction(ctx, action)
		m.cleanup(peer, sock, connID, th)
	}()

	return th
}

func runAction(ctx context.Context, action interfaces.Action) {
	defer func() {
		if r := recover(); r != nil && action.OnError != nil {
			action.OnError(fmt.Errorf("connection thread panic: %v", r))
		}
	}()
	if action.Run != nil {
		action.Run(ctx)
	}
}

// cleanup tears a connection thread down once its Run body has
// returned. It re-looks up the peer's cell under the table lock rather
// than holding a direct reference to it, and refuses to mutate a cell
// whose state records a different thread — near-simultaneous opens and
// pruning both legally replace a cell out from under a thread that
// hasn't noticed its cancellation yet. A state that records no thread
// (ReservedOutbound, Terminated) is handled by the switch below like any
// other.
func (m *Manager[P, S, H]) cleanup(peer P, sock S, connID types.ConnID[P], th *connThread) {
	m.table.lock()
	state, ok := m.table.get(peer)
	if !ok {
		m.table.unlock()
		m.cfg.Trace.Trace("cleanup.not_found", "peer", fmt.Sprint(peer), "thread", th.id)
		_ = m.cfg.SocketOps.Close(sock)
		return
	}

	if owner := types.Thread[P, H](state); owner != nil && owner != types.ThreadHandle(th) {
		m.table.unlock()
		m.cfg.Trace.Trace("cleanup.superseded", "peer", fmt.Sprint(peer), "thread", th.id)
		_ = m.cfg.SocketOps.Close(sock)
		return
	}

	switch state.(type) {
	case types.InboundIdleState[P, H]:
		m.table.set(peer, types.TerminatedState{})
		m.table.unlock()
		m.cfg.Trace.Trace("cleanup.inbound_idle_terminated", "peer", fmt.Sprint(peer))
		m.scheduleTimeWaitDelete(peer, sock, th)

	case types.TerminatingState[P]:
		m.table.unlock()
		m.cfg.Trace.Trace("cleanup.terminating_timewait", "peer", fmt.Sprint(peer))
		m.scheduleTimeWaitDelete(peer, sock, th)

	case types.TerminatedState:
		m.table.unlock()
		m.cfg.Trace.Trace("cleanup.already_terminated", "peer", fmt.Sprint(peer))
		_ = m.cfg.SocketOps.Close(sock)

	default:
		fromState := types.StateName[P, H](state)
		m.table.set(peer, types.TerminatedState{})
		m.table.delete(peer)
		m.table.unlock()
		m.cfg.Trace.Trace("cleanup.reset", "peer", fmt.Sprint(peer), "fromState", fromState)
		_ = m.cfg.SocketOps.Close(sock)
		m.notifyDisconnected(peer)
	}
}

// scheduleTimeWaitDelete closes the socket immediately and, on a
// detached goroutine, sleeps TimeWaitTimeout before re-checking the
// cell: it is removed only if the post-sleep state is still Terminating
// or Terminated, because a fresh connection may have legally reinserted
// a new cell at this key in the meantime.
func (m *Manager[P, S, H]) scheduleTimeWaitDelete(peer P, sock S, th *connThread) {
	_ = m.cfg.SocketOps.Close(sock)

	go func() {
		m.cfg.Clock.Sleep(m.cfg.TimeWaitTimeout)

		m.table.lock()
		state, ok := m.table.get(peer)
		if !ok {
			m.table.unlock()
			return
		}
		switch state.(type) {
		case types.TerminatingState[P], types.TerminatedState:
			m.table.set(peer, types.TerminatedState{})
			m.table.delete(peer)
			m.table.unlock()
			m.cfg.Trace.Trace("timewait.removed", "peer", fmt.Sprint(peer), "thread", th.id)
			m.notifyDisconnected(peer)
		default:
			m.table.unlock()
			m.cfg.Trace.Trace("timewait.superseded", "peer", fmt.Sprint(peer), "thread", th.id)
		}
	}()
}
