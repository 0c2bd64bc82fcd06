// Package connmgr implements the connection manager: the concurrent
// per-peer connection lifecycle state machine, its public operations for
// inbound/outbound admission, promotion/demotion and unregistration, and
// the admission/prune path.
package connmgr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-connmgr/pkg/interfaces"
	"github.com/dep2p/go-connmgr/pkg/lib/log"
	"github.com/dep2p/go-connmgr/pkg/types"
)

var logger = log.Logger("connmgr")

// Manager is the connection manager. P is the peer-address type, S is
// the socket type SocketOps operates on, H is the opaque handle type
// the Handler returns. A Manager owns exactly the goroutines it has
// spawned via spawnConnThread; nothing else closes a socket or cancels
// a thread it did not create.
type Manager[P comparable, S any, H any] struct {
	cfg   Config[P, S, H]
	table *table[P, H]

	notifiersMu sync.RWMutex
	notifiers   []interfaces.ConnEventNotifier[P]

	closed atomic.Bool
}

// New validates cfg and constructs a Manager. The returned Manager owns
// no resources until includeInbound/requestOutbound are called — there
// is nothing to release if New is simply discarded.
func New[P comparable, S any, H any](cfg Config[P, S, H]) (*Manager[P, S, H], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager[P, S, H]{cfg: cfg, table: newTable[P, H]()}, nil
}

// NumberOfConnections is a cheap read of the table's current size.
func (m *Manager[P, S, H]) NumberOfConnections() int {
	return m.table.len()
}

// Notify registers a best-effort connect/disconnect hook. Calls are
// fired asynchronously and never block a transition.
func (m *Manager[P, S, H]) Notify(n interfaces.ConnEventNotifier[P]) {
	if n == nil {
		return
	}
	m.notifiersMu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.notifiersMu.Unlock()
}

func (m *Manager[P, S, H]) notifyConnected(peer P) {
	m.notifiersMu.RLock()
	ns := append([]interfaces.ConnEventNotifier[P](nil), m.notifiers...)
	m.notifiersMu.RUnlock()
	for _, n := range ns {
		go n.Connected(peer)
	}
}

func (m *Manager[P, S, H]) notifyDisconnected(peer P) {
	m.notifiersMu.RLock()
	ns := append([]interfaces.ConnEventNotifier[P](nil), m.notifiers...)
	m.notifiersMu.RUnlock()
	for _, n := range ns {
		go n.Disconnected(peer)
	}
}

// ownsCell reports whether the peer has an entry (ok) and th is the
// thread currently recorded in its state. A state that carries no thread
// (ReservedOutbound, Terminated) is never owned by th.
func ownsCell[P comparable, H any](state types.ConnectionState[P, H], ok bool, th types.ThreadHandle) bool {
	if !ok {
		return false
	}
	return types.Thread[P, H](state) == th
}

func (m *Manager[P, S, H]) localBindAddr(peer P) (P, bool) {
	var zero P
	if m.cfg.AddressClassifier == nil {
		return zero, false
	}
	switch m.cfg.AddressClassifier.Classify(peer) {
	case types.AddressIPv4:
		if m.cfg.IPv4Address != nil {
			return *m.cfg.IPv4Address, true
		}
	case types.AddressIPv6:
		if m.cfg.IPv6Address != nil {
			return *m.cfg.IPv6Address, true
		}
	}
	return zero, false
}

// IncludeInbound unconditionally overwrites whatever cell currently
// exists for peer: any previous cell (e.g. a stillborn ReservedOutbound)
// must never remain referenced once an inbound connection arrives.
func (m *Manager[P, S, H]) IncludeInbound(ctx context.Context, sock S, peer P) (types.ConnResult[P, H], error) {
	if m.closed.Load() {
		_ = m.cfg.SocketOps.Close(sock)
		return types.ConnResult[P, H]{}, ErrClosed
	}

	localAddr, err := m.cfg.SocketOps.GetLocalAddr(sock)
	if err != nil {
		_ = m.cfg.SocketOps.Close(sock)
		return types.ConnResult[P, H]{}, err
	}
	connID := types.ConnID[P]{Remote: peer, Local: localAddr}
	promise := types.NewPromise[H]()
	th := m.spawnConnThread(peer, sock, connID, promise)

	m.table.lock()
	m.table.set(peer, types.UnnegotiatedState[P]{Provenance: types.Inbound, ConnID: connID, Thread: th})
	m.table.unlock()
	m.cfg.Trace.Trace("includeInbound.accepted", "peer", fmt.Sprint(peer), "connID", connID.String())

	outcome, err := promise.Wait(ctx)
	if err != nil {
		th.Cancel()
		return types.ConnResult[P, H]{}, err
	}

	if outcome.Err != nil {
		m.table.lock()
		state, ok := m.table.get(peer)
		if ownsCell[P, H](state, ok, th) {
			if outcome.Err.Kind == types.HandshakeProtocolViolation {
				m.table.set(peer, types.TerminatedState{Err: outcome.Err})
			} else {
				m.table.set(peer, types.TerminatingState[P]{ConnID: connID, Thread: th, Err: outcome.Err})
			}
		}
		m.table.unlock()
		m.cfg.Trace.Trace("includeInbound.handshake_failed", "peer", fmt.Sprint(peer), "kind", outcome.Err.Kind.String())
		return types.Disconnected[P, H](connID, outcome.Err), nil
	}

	df := m.cfg.DataFlowFromVersion(outcome.Version)

	m.table.lock()
	state, ok := m.table.get(peer)
	if !ownsCell[P, H](state, ok, th) {
		m.table.unlock()
		// Our cell is gone — a racing operation already owns the peer's
		// slot. th no longer belongs to any cell, so nothing will ever
		// cancel it for us; tear it down ourselves so its Cleanup step
		// still runs and its socket still gets closed.
		th.Cancel()
		m.cfg.Trace.Trace("includeInbound.superseded", "peer", fmt.Sprint(peer))
		return types.Disconnected[P, H](connID, types.ErrUnknownConnection), nil
	}
	switch state.(type) {
	case types.UnnegotiatedState[P], types.TerminatingState[P], types.TerminatedState:
		// the three states §4.4 step 4 allows. Past the ownsCell check
		// only a state still carrying th gets here, so TerminatedState
		// (which carries no thread) never does.
	default:
		m.table.unlock()
		return types.ConnResult[P, H]{}, &types.ImpossibleStateError[P]{
			Peer:    peer,
			Context: "state after successful inbound negotiation is " + types.StateName[P, H](state),
		}
	}
	m.table.set(peer, types.InboundIdleState[P, H]{ConnID: connID, Thread: th, Handle: outcome.Handle, DataFlow: df})
	m.table.unlock()

	m.cfg.Trace.Trace("includeInbound.negotiated", "peer", fmt.Sprint(peer), "dataFlow", df.String())
	m.notifyConnected(peer)
	return types.Connected(connID, df, outcome.Handle), nil
}
