package connmgr

import (
	"fmt"

	"github.com/dep2p/go-connmgr/pkg/types"
)

// PromotedToWarmRemote reports that the inbound governor observed the
// remote side start actively using the connection. Never cancels a
// thread, never touches thread ownership.
func (m *Manager[P, S, H]) PromotedToWarmRemote(peer P) error {
	m.table.lock()
	defer m.table.unlock()

	state, ok := m.table.get(peer)
	if !ok {
		return &types.UnsupportedStateError[P]{Peer: peer, InState: "missing"}
	}

	switch st := state.(type) {
	case types.OutboundDupState[P, H]:
		m.table.set(peer, types.DuplexState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle})
		m.cfg.Trace.Trace("promotedToWarmRemote.dup_to_duplex", "peer", fmt.Sprint(peer))
		return nil

	case types.InboundIdleState[P, H]:
		m.table.set(peer, types.InboundState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle, DataFlow: st.DataFlow})
		m.cfg.Trace.Trace("promotedToWarmRemote.idle_to_inbound", "peer", fmt.Sprint(peer))
		return nil

	case types.InboundState[P, H], types.DuplexState[P, H]:
		m.cfg.Trace.Trace("promotedToWarmRemote.already_warm", "peer", fmt.Sprint(peer))
		return nil

	default:
		return &types.UnsupportedStateError[P]{Peer: peer, InState: types.StateName[P, H](state)}
	}
}

// DemotedToColdRemote reports that the remote side went quiet.
func (m *Manager[P, S, H]) DemotedToColdRemote(peer P) error {
	m.table.lock()
	defer m.table.unlock()

	state, ok := m.table.get(peer)
	if !ok {
		return &types.UnsupportedStateError[P]{Peer: peer, InState: "missing"}
	}

	switch st := state.(type) {
	case types.InboundState[P, H]:
		m.table.set(peer, types.InboundIdleState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle, DataFlow: st.DataFlow})
		m.cfg.Trace.Trace("demotedToColdRemote.inbound_to_idle", "peer", fmt.Sprint(peer))
		return nil

	case types.DuplexState[P, H]:
		m.table.set(peer, types.OutboundDupState[P, H]{ConnID: st.ConnID, Thread: st.Thread, Handle: st.Handle, Timeout: types.Ticking})
		m.cfg.Trace.Trace("demotedToColdRemote.duplex_to_dup", "peer", fmt.Sprint(peer))
		return nil

	default:
		return &types.UnsupportedStateError[P]{Peer: peer, InState: types.StateName[P, H](state)}
	}
}
