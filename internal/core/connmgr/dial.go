package connmgr

import (
	"context"
	"fmt"

	"github.com/dep2p/go-connmgr/pkg/types"
)

// RequestOutbound is a two-phase operation. Phase A inspects the table
// under the lock and either
// starts a fresh dial ("Nowhere"), reuses an inbound connection
// directly ("Here"), waits on an in-flight inbound negotiation
// ("There"), retries once a Terminating entry has departed, or fails
// outright.
func (m *Manager[P, S, H]) RequestOutbound(ctx context.Context, peer P) (types.ConnResult[P, H], error) {
	if m.closed.Load() {
		return types.ConnResult[P, H]{}, ErrClosed
	}

	m.table.lock()
	for {
		state, ok := m.table.get(peer)
		if !ok {
			m.table.set(peer, types.ReservedOutboundState{})
			m.table.unlock()
			return m.dialPhaseB(ctx, peer)
		}

		switch st := state.(type) {
		case types.TerminatedState:
			m.table.set(peer, types.ReservedOutboundState{})
			m.table.unlock()
			return m.dialPhaseB(ctx, peer)

		case types.TerminatingState[P]:
			if ctx.Err() != nil {
				m.table.unlock()
				return types.ConnResult[P, H]{}, ctx.Err()
			}
			m.table.waitCtx(ctx)
			continue

		case types.UnnegotiatedState[P]:
			if st.Provenance == types.Inbound {
				m.table.unlock()
				return m.awaitThere(ctx, peer)
			}
			m.table.unlock()
			return types.ConnResult[P, H]{}, &types.ConnectionExistsError[P]{Peer: peer, Provenance: types.Outbound}

		case types.InboundIdleState[P, H]:
			if st.DataFlow != types.Duplex {
				m.table.unlock()
				return types.ConnResult[P, H]{}, &types.ForbiddenConnectionError[P]{ConnID: st.ConnID}
			}
			newSt := types.OutboundDupState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle, Timeout: types.Ticking}
			m.table.set(peer, newSt)
			m.table.unlock()
			m.cfg.Trace.Trace("requestOutbound.reuse_inbound_idle", "peer", fmt.Sprint(peer))
			return types.Connected(st.ConnID, types.Duplex, st.Handle), nil

		case types.InboundState[P, H]:
			if st.DataFlow != types.Duplex {
				m.table.unlock()
				return types.ConnResult[P, H]{}, &types.ForbiddenConnectionError[P]{ConnID: st.ConnID}
			}
			newSt := types.DuplexState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle}
			m.table.set(peer, newSt)
			m.table.unlock()
			m.cfg.Trace.Trace("requestOutbound.reuse_inbound", "peer", fmt.Sprint(peer))
			return types.Connected(st.ConnID, types.Duplex, st.Handle), nil

		default:
			m.table.unlock()
			return types.ConnResult[P, H]{}, &types.ConnectionExistsError[P]{Peer: peer, Provenance: types.Outbound}
		}
	}
}

// awaitThere is Phase B "There": block until the in-flight inbound
// negotiation leaves Unnegotiated(Inbound,...), then reuse it or fail.
func (m *Manager[P, S, H]) awaitThere(ctx context.Context, peer P) (types.ConnResult[P, H], error) {
	m.table.lock()
	defer m.table.unlock()

	for {
		state, ok := m.table.get(peer)
		if !ok {
			return types.ConnResult[P, H]{}, &types.ImpossibleStateError[P]{Peer: peer, Context: "entry vanished while awaiting inbound negotiation"}
		}
		if un, isUn := state.(types.UnnegotiatedState[P]); isUn && un.Provenance == types.Inbound {
			if ctx.Err() != nil {
				return types.ConnResult[P, H]{}, ctx.Err()
			}
			m.table.waitCtx(ctx)
			continue
		}

		switch st := state.(type) {
		case types.InboundIdleState[P, H]:
			if st.DataFlow != types.Duplex {
				return types.ConnResult[P, H]{}, &types.ForbiddenConnectionError[P]{ConnID: st.ConnID}
			}
			newSt := types.OutboundDupState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle, Timeout: types.Ticking}
			m.table.set(peer, newSt)
			m.cfg.Trace.Trace("requestOutbound.there_reuse_idle", "peer", fmt.Sprint(peer))
			return types.Connected(st.ConnID, types.Duplex, st.Handle), nil

		case types.InboundState[P, H]:
			if st.DataFlow != types.Duplex {
				return types.ConnResult[P, H]{}, &types.ForbiddenConnectionError[P]{ConnID: st.ConnID}
			}
			newSt := types.DuplexState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle}
			m.table.set(peer, newSt)
			m.cfg.Trace.Trace("requestOutbound.there_reuse", "peer", fmt.Sprint(peer))
			return types.Connected(st.ConnID, types.Duplex, st.Handle), nil

		case types.TerminatingState[P]:
			return types.Disconnected[P, H](st.ConnID, nil), nil

		case types.TerminatedState:
			var zero types.ConnID[P]
			return types.Disconnected[P, H](zero, st.Err), nil

		default:
			return types.ConnResult[P, H]{}, &types.ImpossibleStateError[P]{
				Peer:    peer,
				Context: "unexpected state while awaiting inbound negotiation: " + types.StateName[P, H](state),
			}
		}
	}
}

// resetReserved clears the ReservedOutbound cell this dial created,
// unless a racing includeInbound has already overwritten it — in which
// case the inbound side now owns the peer's slot and must be left
// alone.
func (m *Manager[P, S, H]) resetReserved(peer P) {
	m.table.lock()
	if state, ok := m.table.get(peer); ok {
		if _, stillReserved := state.(types.ReservedOutboundState); stillReserved {
			m.table.set(peer, types.TerminatedState{})
			m.table.delete(peer)
		}
	}
	m.table.unlock()
}

// claimDial atomically upgrades the ReservedOutbound cell this dial
// created into Unnegotiated(Outbound, connID, th), but only if it is
// still ours to upgrade.
func (m *Manager[P, S, H]) claimDial(peer P, connID types.ConnID[P], th *connThread) bool {
	m.table.lock()
	defer m.table.unlock()
	state, ok := m.table.get(peer)
	if !ok {
		return false
	}
	if _, stillReserved := state.(types.ReservedOutboundState); !stillReserved {
		return false
	}
	m.table.set(peer, types.UnnegotiatedState[P]{Provenance: types.Outbound, ConnID: connID, Thread: th})
	return true
}

// dialPhaseB is Phase B "Nowhere": open, bind, connect, then negotiate.
// Every failure after socket creation closes the socket and resets the
// cell before propagating, so a failed dial never leaks a socket or
// leaves a stale reservation behind.
func (m *Manager[P, S, H]) dialPhaseB(ctx context.Context, peer P) (types.ConnResult[P, H], error) {
	sock, err := m.cfg.SocketOps.OpenToConnect(ctx, peer)
	if err != nil {
		m.resetReserved(peer)
		return types.ConnResult[P, H]{}, err
	}

	if local, ok := m.localBindAddr(peer); ok {
		if err := m.cfg.SocketOps.Bind(ctx, sock, local); err != nil {
			_ = m.cfg.SocketOps.Close(sock)
			m.resetReserved(peer)
			return types.ConnResult[P, H]{}, err
		}
	}

	if err := m.cfg.SocketOps.Connect(ctx, sock, peer); err != nil {
		_ = m.cfg.SocketOps.Close(sock)
		m.resetReserved(peer)
		return types.ConnResult[P, H]{}, err
	}

	localAddr, err := m.cfg.SocketOps.GetLocalAddr(sock)
	if err != nil {
		_ = m.cfg.SocketOps.Close(sock)
		m.resetReserved(peer)
		return types.ConnResult[P, H]{}, err
	}

	connID := types.ConnID[P]{Remote: peer, Local: localAddr}
	promise := types.NewPromise[H]()
	th := m.spawnConnThread(peer, sock, connID, promise)

	if !m.claimDial(peer, connID, th) {
		// A racing includeInbound overwrote our reservation before we
		// could claim it: abandon this dial's connection outright and
		// pivot to awaiting the inbound side's negotiation instead.
		th.Cancel()
		<-th.Done()
		m.cfg.Trace.Trace("requestOutbound.dial_superseded_before_negotiation", "peer", fmt.Sprint(peer))
		return m.awaitThere(ctx, peer)
	}

	outcome, err := promise.Wait(ctx)
	if err != nil {
		th.Cancel()
		return types.ConnResult[P, H]{}, err
	}

	m.table.lock()
	state, ok := m.table.get(peer)
	if !ownsCell[P, H](state, ok, th) {
		m.table.unlock()
		// Same reasoning as includeInbound's superseded-after-negotiation
		// branch: our cell is gone, so th must cancel itself to ever run
		// its Cleanup step and release its socket.
		th.Cancel()
		m.cfg.Trace.Trace("requestOutbound.dial_superseded_after_negotiation", "peer", fmt.Sprint(peer))
		return types.Disconnected[P, H](connID, types.ErrUnknownConnection), nil
	}

	if outcome.Err != nil {
		if outcome.Err.Kind == types.HandshakeProtocolViolation {
			m.table.set(peer, types.TerminatedState{Err: outcome.Err})
		} else {
			m.table.set(peer, types.TerminatingState[P]{ConnID: connID, Thread: th, Err: outcome.Err})
		}
		m.table.delete(peer)
		m.table.unlock()
		m.cfg.Trace.Trace("requestOutbound.dial_handshake_failed", "peer", fmt.Sprint(peer), "kind", outcome.Err.Kind.String())
		return types.Disconnected[P, H](connID, outcome.Err), nil
	}

	df := m.cfg.DataFlowFromVersion(outcome.Version)
	var newSt types.ConnectionState[P, H]
	if df == types.Duplex {
		newSt = types.OutboundDupState[P, H]{ConnID: connID, Thread: th, Handle: outcome.Handle, Timeout: types.Ticking}
	} else {
		newSt = types.OutboundUniState[P, H]{ConnID: connID, Thread: th, Handle: outcome.Handle}
	}
	m.table.set(peer, newSt)
	m.table.unlock()

	m.cfg.Trace.Trace("requestOutbound.dialed", "peer", fmt.Sprint(peer), "dataFlow", df.String())
	m.notifyConnected(peer)
	return types.Connected(connID, df, outcome.Handle), nil
}
