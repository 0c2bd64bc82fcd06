package connmgr

import (
	"fmt"

	"github.com/dep2p/go-connmgr/pkg/types"
)

// connectionTypeOf maps a ConnectionState onto the ConnectionType the
// PrunePolicy sees, and reports whether the state is eligible for
// pruning at all (it must carry both a ConnectionType and a live
// thread). ReservedOutbound, Unnegotiated(Outbound), OutboundUni,
// Terminating and Terminated are never eligible.
func connectionTypeOf[P comparable, H any](state types.ConnectionState[P, H]) (types.ConnectionType, bool) {
	switch st := state.(type) {
	case types.UnnegotiatedState[P]:
		if st.Provenance == types.Inbound {
			return types.UnnegotiatedConn(types.Inbound), true
		}
		return types.ConnectionType{}, false
	case types.InboundIdleState[P, H]:
		return types.InboundIdleConn(st.DataFlow), true
	case types.InboundState[P, H]:
		return types.NegotiatedConn(types.Inbound, st.DataFlow), true
	case types.OutboundDupState[P, H]:
		return types.NegotiatedConn(types.Outbound, types.Duplex), true
	case types.DuplexState[P, H]:
		return types.DuplexConn(), true
	default:
		return types.ConnectionType{}, false
	}
}

// admissibleCount returns the number of cells whose state counts toward
// AcceptedConnectionsHardLimit.
func (m *Manager[P, S, H]) admissibleCount(snapshot map[P]types.ConnectionState[P, H]) int {
	n := 0
	for _, state := range snapshot {
		if _, ok := connectionTypeOf[P, H](state); ok {
			n++
		}
	}
	return n
}

// runPrune is invoked after a successful Duplex -> Inbound demotion once
// the admitted count may have crossed the hard limit. It never mutates a
// victim's cell directly — cancelling its thread causes the victim's own
// Cleanup routine to do that.
func (m *Manager[P, S, H]) runPrune() {
	if m.cfg.AcceptedConnectionsHardLimit <= 0 || m.cfg.PrunePolicy == nil {
		return
	}

	m.table.lock()
	snapshot := m.table.snapshotLocked()
	m.table.unlock()

	count := m.admissibleCount(snapshot)
	if count <= m.cfg.AcceptedConnectionsHardLimit {
		return
	}
	excess := count - m.cfg.AcceptedConnectionsHardLimit

	candidates := make(map[P]types.ConnectionType, len(snapshot))
	threads := make(map[P]types.ThreadHandle, len(snapshot))
	for peer, state := range snapshot {
		ct, ok := connectionTypeOf[P, H](state)
		if !ok {
			continue
		}
		th := types.Thread[P, H](state)
		if th == nil {
			continue
		}
		candidates[peer] = ct
		threads[peer] = th
	}
	if len(candidates) == 0 {
		return
	}
	if excess > len(candidates) {
		excess = len(candidates)
	}

	victims := m.cfg.PrunePolicy.Select(candidates, excess)
	m.cfg.Trace.Trace("prune.selected", "count", count, "limit", m.cfg.AcceptedConnectionsHardLimit, "victims", len(victims))

	for peer := range victims {
		th, ok := threads[peer]
		if !ok {
			continue
		}
		th.Cancel()
		m.cfg.Trace.Trace("prune.cancelled", "peer", fmt.Sprint(peer))
	}
}
