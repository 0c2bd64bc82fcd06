package connmgr

import (
	"fmt"

	"github.com/dep2p/go-connmgr/pkg/types"
)

// UnregisterInbound is idle-side demotion driven by the inbound
// protocol governor. It never cancels more than one thread and never
// blocks.
func (m *Manager[P, S, H]) UnregisterInbound(peer P) (types.TransitionOutcome, error) {
	m.table.lock()
	defer m.table.unlock()

	state, ok := m.table.get(peer)
	if !ok {
		return types.KeepTr, &types.UnsupportedStateError[P]{Peer: peer, InState: "missing"}
	}

	switch st := state.(type) {
	case types.OutboundDupState[P, H]:
		if st.Timeout == types.Ticking {
			st.Timeout = types.Expired
			m.table.set(peer, st)
			m.cfg.Trace.Trace("unregisterInbound.dup_ticking_expired", "peer", fmt.Sprint(peer))
			return types.KeepTr, nil
		}
		m.cfg.Trace.Trace("unregisterInbound.dup_already_expired", "peer", fmt.Sprint(peer))
		return types.KeepTr, nil

	case types.InboundIdleState[P, H]:
		st.Thread.Cancel()
		m.table.set(peer, types.TerminatingState[P]{ConnID: st.ConnID, Thread: st.Thread})
		m.cfg.Trace.Trace("unregisterInbound.idle_terminating", "peer", fmt.Sprint(peer))
		return types.CommitTr, nil

	case types.TerminatingState[P]:
		m.cfg.Trace.Trace("unregisterInbound.already_terminating", "peer", fmt.Sprint(peer))
		return types.CommitTr, nil

	case types.InboundState[P, H]:
		// Defensive branch: reachable only on a bug or a race the
		// protocol considers unreachable (DemotedToColdRemote should
		// have run first). Preserve the transition, log it.
		st.Thread.Cancel()
		m.table.set(peer, types.TerminatingState[P]{ConnID: st.ConnID, Thread: st.Thread})
		m.cfg.Trace.Trace("assertion: unregisterInbound.inbound_to_terminating", "peer", fmt.Sprint(peer))
		return types.CommitTr, &types.UnsupportedStateError[P]{Peer: peer, InState: types.StateName[P, H](state)}

	case types.DuplexState[P, H]:
		// Defensive branch: Duplex -> OutboundDup(Ticking) without
		// touching the thread.
		m.table.set(peer, types.OutboundDupState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle, Timeout: types.Ticking})
		m.cfg.Trace.Trace("assertion: unregisterInbound.duplex_to_outbound_dup", "peer", fmt.Sprint(peer))
		return types.CommitTr, &types.UnsupportedStateError[P]{Peer: peer, InState: types.StateName[P, H](state)}

	default:
		return types.KeepTr, &types.UnsupportedStateError[P]{Peer: peer, InState: types.StateName[P, H](state)}
	}
}

// UnregisterOutbound is local demotion of the outbound side. A
// successful Duplex -> Inbound transition runs the prune path after
// releasing the table lock.
func (m *Manager[P, S, H]) UnregisterOutbound(peer P) error {
	m.table.lock()

	state, ok := m.table.get(peer)
	if !ok {
		m.table.unlock()
		m.cfg.Trace.Trace("unregisterOutbound.missing", "peer", fmt.Sprint(peer))
		return nil
	}

	switch st := state.(type) {
	case types.OutboundUniState[P, H]:
		st.Thread.Cancel()
		m.table.set(peer, types.TerminatingState[P]{ConnID: st.ConnID, Thread: st.Thread})
		m.table.unlock()
		m.cfg.Trace.Trace("unregisterOutbound.uni_terminating", "peer", fmt.Sprint(peer))
		return nil

	case types.OutboundDupState[P, H]:
		if st.Timeout == types.Expired {
			st.Thread.Cancel()
			m.table.set(peer, types.TerminatingState[P]{ConnID: st.ConnID, Thread: st.Thread})
			m.table.unlock()
			m.cfg.Trace.Trace("unregisterOutbound.dup_expired_terminating", "peer", fmt.Sprint(peer))
			return nil
		}
		m.table.set(peer, types.InboundIdleState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle, DataFlow: types.Duplex})
		m.table.unlock()
		m.cfg.Trace.Trace("unregisterOutbound.dup_ticking_to_idle", "peer", fmt.Sprint(peer))
		return nil

	case types.InboundIdleState[P, H]:
		m.table.unlock()
		m.cfg.Trace.Trace("unregisterOutbound.already_idle", "peer", fmt.Sprint(peer))
		return nil

	case types.DuplexState[P, H]:
		newSt := types.InboundState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle, DataFlow: types.Duplex}
		m.table.set(peer, newSt)
		m.table.unlock()
		m.cfg.Trace.Trace("unregisterOutbound.duplex_to_inbound", "peer", fmt.Sprint(peer))
		m.runPrune()
		return nil

	case types.InboundState[P, H]:
		m.table.unlock()
		return &types.ForbiddenOperationError[P]{Peer: peer, InState: types.StateName[P, H](state)}

	case types.ReservedOutboundState, types.UnnegotiatedState[P]:
		m.table.unlock()
		return &types.ForbiddenOperationError[P]{Peer: peer, InState: types.StateName[P, H](state)}

	case types.TerminatingState[P], types.TerminatedState:
		m.table.unlock()
		m.cfg.Trace.Trace("unregisterOutbound.already_terminal", "peer", fmt.Sprint(peer))
		return nil

	default:
		m.table.unlock()
		return &types.ImpossibleStateError[P]{Peer: peer, Context: "unregisterOutbound: unhandled state " + types.StateName[P, H](state)}
	}
}
