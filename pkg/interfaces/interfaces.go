// Package interfaces defines the connection manager's external
// collaborators: the socket abstraction, the negotiation handler, the
// prune policy, the address classifier and the trace sink. Every
// implementation the manager depends on is injected through one of
// these — the manager never imports a concrete transport.
package interfaces

import (
	"context"
	"time"

	"github.com/dep2p/go-connmgr/pkg/types"
)

// Bearer is the opaque, handler-facing view of a socket once the CM has
// wrapped it (framing, timeouts, tracing already applied). The manager
// never looks inside it.
type Bearer any

// SocketOps is the I/O primitive set the manager drives to open, bind,
// connect and close sockets, and to discover the local address a socket
// ended up bound to. P is the peer-address type, S is the socket type.
type SocketOps[P comparable, S any] interface {
	OpenToConnect(ctx context.Context, addr P) (S, error)
	Bind(ctx context.Context, sock S, local P) error
	Connect(ctx context.Context, sock S, peer P) error
	Close(sock S) error
	GetLocalAddr(sock S) (P, error)
	ToBearer(ctx context.Context, sock S, timeout time.Duration, trace TraceSink) (Bearer, error)
}

// Action is what Handler.Handle returns: a body to run on the
// connection thread, and an optional error handler invoked if Run exits
// abnormally (panics are not Run's contract — errors are reported
// through the Promise, not via this hook, but some handlers use it for
// last-resort logging).
type Action struct {
	Run     func(ctx context.Context)
	OnError func(err error)
}

// Handler is the external negotiator: given a connection identity and a
// bearer, it returns an Action whose Run body must, before returning,
// fulfill promise with either a HandleError or a successful handle and
// negotiated version.
type Handler[P comparable, H any] interface {
	Handle(connID types.ConnID[P], bearer Bearer, promise *types.Promise[H]) Action
}

// PrunePolicy is a pure selection function over admissible candidates:
// given a peer -> ConnectionType map and a victim count k, it returns
// exactly k peers to evict. It must not perform I/O or hold locks.
type PrunePolicy[P comparable] interface {
	Select(candidates map[P]types.ConnectionType, k int) map[P]struct{}
}

// AddressClassifier tells the manager which local-bind address family a
// peer address belongs to.
type AddressClassifier[P comparable] interface {
	Classify(addr P) types.AddressType
}

// DataFlowFromVersion derives the negotiated data flow from whatever
// version string the Handler's promise carried.
type DataFlowFromVersion func(version string) types.DataFlow

// TraceSink receives every state transition and the defensive
// assertion-failure branches, as free-form key/value pairs.
type TraceSink interface {
	Trace(event string, fields ...any)
}

// ConnEventNotifier is a supplemental, best-effort connect/disconnect
// hook. Calls must never block a connection manager transition.
type ConnEventNotifier[P comparable] interface {
	Connected(peer P)
	Disconnected(peer P)
}
